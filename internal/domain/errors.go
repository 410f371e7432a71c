package domain

import "github.com/pkg/errors"

var (
	// ErrNoSession means the engine holds no session for the address.
	ErrNoSession = errors.New("no session for address")
	// ErrInvalidBundle means a prekey bundle failed signature or key checks.
	ErrInvalidBundle = errors.New("invalid prekey bundle")
	// ErrBundleNotFound means the relay has no bundle for the address.
	ErrBundleNotFound = errors.New("prekey bundle not found")
	// ErrCorruptCipher means the ciphertext could not be parsed or authenticated.
	ErrCorruptCipher = errors.New("corrupt ciphertext")
	// ErrUnrecoverable means decrypt still failed after the recovery handshake.
	ErrUnrecoverable = errors.New("cannot decrypt after recovery handshake")
	// ErrPublishRejected means the relay answered false to a key upload.
	ErrPublishRejected = errors.New("relay rejected key material")
	// ErrInvalidHandle means a handle is empty or an invalid phone number.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrNoAccount means no local address has been registered yet.
	ErrNoAccount = errors.New("no local account; run init first")
)
