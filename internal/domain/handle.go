package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/ttacon/libphonenumber"
)

// unknownRegion makes libphonenumber insist on an explicit country code.
const unknownRegion = "ZZ"

// ParseHandle normalises user input into a Handle. Input that starts with a
// digit or '+' is a phone number and must carry its country code; it is
// returned in E.164 form. Anything else is taken as an account name.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.Wrap(ErrInvalidHandle, "empty")
	}
	if c := s[0]; c != '+' && (c < '0' || c > '9') {
		return Handle(s), nil
	}

	num, err := libphonenumber.Parse(s, unknownRegion)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidHandle, "%q: %v", s, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errors.Wrapf(ErrInvalidHandle, "%q is not a valid phone number", s)
	}
	return Handle(libphonenumber.Format(num, libphonenumber.E164)), nil
}
