package interfaces

import domaintypes "ciphersync/internal/domain/types"

// SessionEngine is the cryptographic capability boundary. Implementations
// are not safe for concurrent use on the same address; callers serialise
// per address.
type SessionEngine interface {
	LocalAddress() (domaintypes.Address, error)

	HasSession(address domaintypes.Address) (bool, error)
	// EstablishSession returns ErrInvalidBundle when the bundle fails
	// validation.
	EstablishSession(address domaintypes.Address, bundle domaintypes.PreKeyBundle) error
	// Encrypt returns ErrNoSession when no session exists.
	Encrypt(address domaintypes.Address, plaintext []byte) (domaintypes.CipherMessage, error)
	// Decrypt returns ErrNoSession or ErrCorruptCipher on failure.
	Decrypt(address domaintypes.Address, message domaintypes.CipherMessage) ([]byte, error)

	IdentityKey() (domaintypes.IdentityKey, error)
	GenerateSignedPreKey() (domaintypes.SignedPreKey, error)
	GenerateOneTimePreKeys(count int) ([]domaintypes.OneTimePreKey, error)
}
