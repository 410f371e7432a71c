package interfaces

import (
	"context"

	domaintypes "ciphersync/internal/domain/types"
)

// Transport is the request/acknowledge channel to the relay, all with context.
//
// Upload methods return the relay's verdict; a false verdict without an
// error means the relay rejected the material.
type Transport interface {
	CheckMailbox(ctx context.Context) ([]domaintypes.Mail, error)

	UploadIdentityKey(ctx context.Context, key domaintypes.IdentityKey) (bool, error)
	UploadSignedPreKey(ctx context.Context, key domaintypes.SignedPreKey) (bool, error)
	UploadPreKeys(ctx context.Context, keys []domaintypes.OneTimePreKey) (bool, error)

	GetAddresses(ctx context.Context, handle domaintypes.Handle) ([]domaintypes.Address, error)
	// GetPreKeyBundle returns ErrBundleNotFound when the relay has no bundle.
	GetPreKeyBundle(ctx context.Context, address domaintypes.Address) (domaintypes.PreKeyBundle, error)

	OutGoingMessage(
		ctx context.Context,
		from domaintypes.Address,
		to domaintypes.Address,
		envelope domaintypes.Envelope,
	) (domaintypes.SendResult, error)

	AcknowledgeReceipt(ctx context.Context, handle domaintypes.Handle) error
}
