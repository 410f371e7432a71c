package interfaces

import (
	"context"

	domaintypes "ciphersync/internal/domain/types"
)

// MessageStore is the local durable store for conversations and messages.
type MessageStore interface {
	QueryMessagesByState(
		ctx context.Context,
		state domaintypes.MessageState,
	) ([]domaintypes.PendingMessage, error)
	// SaveMessage appends msg to the conversation with handle, creating the
	// conversation on first use.
	SaveMessage(
		ctx context.Context,
		handle domaintypes.Handle,
		msg domaintypes.LocalMessage,
	) (domaintypes.MessageID, error)
	UpdateMessageState(
		ctx context.Context,
		id domaintypes.MessageID,
		state domaintypes.MessageState,
	) error
	RecordAttempt(ctx context.Context, id domaintypes.MessageID) (int, error)

	ConversationExists(ctx context.Context, handle domaintypes.Handle) (bool, error)
	HasMessages(ctx context.Context, handle domaintypes.Handle) (bool, error)
	ListMessages(ctx context.Context, handle domaintypes.Handle) ([]domaintypes.LocalMessage, error)
}

// MailBacklog keeps drained mails on this device until they are processed.
// The relay forgets a mail once it has handed it out.
type MailBacklog interface {
	HoldMails(ctx context.Context, mails []domaintypes.Mail) error
	// HeldMails lists every held mail, oldest first.
	HeldMails(ctx context.Context) ([]domaintypes.HeldMail, error)
	ReleaseMail(ctx context.Context, id int64) error
}
