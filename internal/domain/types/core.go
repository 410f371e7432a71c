package types

import "strconv"

// Handle is a recipient's stable identifier: a phone number in E.164 form
// or a plain account name. ParseHandle in package domain normalises user
// input. One handle may own several devices.
type Handle string

// String returns the string form of the handle.
func (h Handle) String() string { return string(h) }

// DeviceID identifies one device of a handle.
type DeviceID uint32

// Address identifies one cryptographic session endpoint.
type Address struct {
	Handle   Handle   `json:"name"`
	DeviceID DeviceID `json:"deviceId"`
}

// NewAddress builds an Address.
func NewAddress(handle Handle, device DeviceID) Address {
	return Address{Handle: handle, DeviceID: device}
}

// String renders the address as "handle.device".
func (a Address) String() string {
	return a.Handle.String() + "." + strconv.FormatUint(uint64(a.DeviceID), 10)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.Handle == "" && a.DeviceID == 0 }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// RegistrationID is a random value chosen once per install and published in
// every bundle.
type RegistrationID uint32

// AccountProfile binds this install to an address on a specific relay.
type AccountProfile struct {
	ServerURL      string         `json:"server_url"`
	Address        Address        `json:"address"`
	RegistrationID RegistrationID `json:"registration_id"`
}
