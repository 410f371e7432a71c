package interfaces

import (
	"context"

	domaintypes "ciphersync/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// Provisioner publishes the key material the relay asks for.
type Provisioner interface {
	Provision(ctx context.Context, requirement domaintypes.KeyBundleRequirement) error
}

// SessionSynchronizer makes sure every device of a handle has a session.
type SessionSynchronizer interface {
	EnsureSessions(ctx context.Context, handle domaintypes.Handle) ([]domaintypes.Address, error)
}

// CipherGateway encrypts and decrypts for single addresses.
type CipherGateway interface {
	EncryptFor(address domaintypes.Address, plaintext []byte) (domaintypes.CipherMessage, error)
	DecryptFrom(
		ctx context.Context,
		address domaintypes.Address,
		message domaintypes.CipherMessage,
	) domaintypes.DecryptOutcome
	// Receive decrypts an inbound envelope, running the recovery handshake
	// when needed. It returns nil for EMPTY messages.
	Receive(
		ctx context.Context,
		sender domaintypes.Address,
		envelope domaintypes.Envelope,
	) (*domaintypes.LocalMessage, error)
}

// DeliveryOutcome aggregates a fan-out send.
type DeliveryOutcome struct {
	Delivered bool
	Results   []AddressResult
}

// AddressResult is the per-device part of a DeliveryOutcome.
type AddressResult struct {
	Address domaintypes.Address
	SentAt  domaintypes.SendResult
	Err     error
}

// Sender fans one logical message out to every device of a recipient.
type Sender interface {
	Send(
		ctx context.Context,
		local domaintypes.Address,
		handle domaintypes.Handle,
		msg domaintypes.LocalMessage,
	) (DeliveryOutcome, error)
}
