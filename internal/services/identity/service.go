package identity

import (
	"unicode"

	"github.com/pkg/errors"

	"ciphersync/internal/crypto"
	"ciphersync/internal/domain"
)

const minPassphraseLength = 12

var (
	ErrWeakPassphrase = errors.Errorf(
		"passphrase must be at least %d characters and mix upper case, lower case, digits and symbols",
		minPassphraseLength)
	ErrAccountExists = errors.New("account already registered for this relay")
)

// passphraseClasses must each match at least one rune.
var passphraseClasses = []func(rune) bool{
	unicode.IsUpper,
	unicode.IsLower,
	unicode.IsDigit,
	func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) },
}

func strongEnough(passphrase string) bool {
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, class := range passphraseClasses {
		hit := false
		for _, r := range passphrase {
			if class(r) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Service owns the identity key pair of this install and its relay accounts.
type Service struct {
	identities domain.IdentityStore
	accounts   domain.AccountStore
}

func New(identities domain.IdentityStore, accounts domain.AccountStore) *Service {
	return &Service{identities: identities, accounts: accounts}
}

// GenerateIdentity draws an X25519 agreement pair and an Ed25519 signing
// pair, seals them under passphrase and returns the fingerprint to show.
func (s *Service) GenerateIdentity(passphrase string) (domain.Identity, domain.Fingerprint, error) {
	if !strongEnough(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}

	var (
		id  domain.Identity
		err error
	)
	if id.XPriv, id.XPub, err = crypto.GenerateX25519(); err != nil {
		return domain.Identity{}, "", errors.Wrap(err, "agreement key")
	}
	if id.EdPriv, id.EdPub, err = crypto.GenerateEd25519(); err != nil {
		return domain.Identity{}, "", errors.Wrap(err, "signing key")
	}
	if err := s.identities.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", errors.Wrap(err, "save identity")
	}
	return id, crypto.IdentityFingerprint(id.Public()), nil
}

func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.identities.LoadIdentity(passphrase)
}

func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.identities.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.IdentityFingerprint(id.Public()), nil
}

// RegisterAccount names this install as address on serverURL and draws its
// registration id. An existing registration is never overwritten.
func (s *Service) RegisterAccount(serverURL string, address domain.Address) (domain.AccountProfile, error) {
	if address.Handle == "" {
		return domain.AccountProfile{}, errors.New("handle must not be empty")
	}
	_, exists, err := s.accounts.LoadAccountProfile(serverURL)
	switch {
	case err != nil:
		return domain.AccountProfile{}, err
	case exists:
		return domain.AccountProfile{}, errors.Wrap(ErrAccountExists, serverURL)
	}

	reg, err := crypto.RandomUint32()
	if err != nil {
		return domain.AccountProfile{}, errors.Wrap(err, "registration id")
	}
	profile := domain.AccountProfile{ServerURL: serverURL, Address: address, RegistrationID: domain.RegistrationID(reg)}
	if err := s.accounts.SaveAccountProfile(profile); err != nil {
		return domain.AccountProfile{}, errors.Wrap(err, "save account profile")
	}
	return profile, nil
}

var _ domain.IdentityService = (*Service)(nil)
