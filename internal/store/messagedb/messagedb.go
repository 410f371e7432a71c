// Package messagedb keeps conversation history in a local sqlite database.
package messagedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"

	"ciphersync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	handle TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	owner           TEXT NOT NULL,
	data            BLOB,
	type            INTEGER NOT NULL,
	timestamp       INTEGER NOT NULL,
	file_name       TEXT,
	file_type       TEXT,
	file_size       INTEGER,
	state           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS messages_state ON messages(state);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages(conversation_id);
CREATE TABLE IF NOT EXISTS held_mails (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	body   BLOB NOT NULL
);
`

// ErrMessageNotFound is returned when an update targets a missing row.
var ErrMessageNotFound = errors.New("message not found")

// DB implements domain.MessageStore on sqlite.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	dsn := path
	db, err := sql.Open("sqlite3", dsn+sep(dsn)+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open message db")
	}
	// A single connection keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply message db schema")
	}
	return &DB{db: db}, nil
}

func sep(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

// Close releases the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// SaveMessage appends msg to the conversation for handle, creating the
// conversation on first use.
func (d *DB) SaveMessage(ctx context.Context, handle domain.Handle, msg domain.LocalMessage) (domain.MessageID, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(handle) VALUES (?) ON CONFLICT(handle) DO NOTHING`,
		string(handle)); err != nil {
		return 0, errors.Wrap(err, "upsert conversation")
	}
	var convID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE handle = ?`, string(handle)).Scan(&convID); err != nil {
		return 0, errors.Wrap(err, "lookup conversation")
	}

	var name, mime sql.NullString
	var size sql.NullInt64
	if fi := msg.FileInfo; fi != nil {
		name = sql.NullString{String: fi.Name, Valid: true}
		mime = sql.NullString{String: fi.MIMEType, Valid: true}
		size = sql.NullInt64{Int64: fi.Size, Valid: true}
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages(conversation_id, owner, data, type, timestamp, file_name, file_type, file_size, state, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		convID, string(msg.Owner), msg.Data, int(msg.Type), ts.UnixMilli(),
		name, mime, size, string(msg.State), msg.Attempts)
	if err != nil {
		return 0, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "message id")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit save")
	}
	return domain.MessageID(id), nil
}

// UpdateMessageState moves a stored message to state.
func (d *DB) UpdateMessageState(ctx context.Context, id domain.MessageID, state domain.MessageState) error {
	res, err := d.db.ExecContext(ctx, `UPDATE messages SET state = ? WHERE id = ?`, string(state), int64(id))
	if err != nil {
		return errors.Wrapf(err, "update message %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrMessageNotFound, "message %d", id)
	}
	return nil
}

// RecordAttempt bumps the resend counter of a message and returns the new value.
func (d *DB) RecordAttempt(ctx context.Context, id domain.MessageID) (int, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE messages SET attempts = attempts + 1 WHERE id = ?`, int64(id))
	if err != nil {
		return 0, errors.Wrapf(err, "record attempt %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, errors.Wrapf(ErrMessageNotFound, "message %d", id)
	}
	var attempts int
	if err := d.db.QueryRowContext(ctx, `SELECT attempts FROM messages WHERE id = ?`, int64(id)).Scan(&attempts); err != nil {
		return 0, errors.Wrapf(err, "read attempts %d", id)
	}
	return attempts, nil
}

// QueryMessagesByState lists every message in state, oldest first.
func (d *DB) QueryMessagesByState(ctx context.Context, state domain.MessageState) ([]domain.PendingMessage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.handle, m.id, m.owner, m.data, m.type, m.timestamp, m.file_name, m.file_type, m.file_size, m.state, m.attempts
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE m.state = ?
		ORDER BY m.timestamp, m.id`, string(state))
	if err != nil {
		return nil, errors.Wrap(err, "query messages by state")
	}
	defer rows.Close()

	var out []domain.PendingMessage
	for rows.Next() {
		var handle string
		msg, err := scanMessage(rows, &handle)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PendingMessage{Handle: domain.Handle(handle), Message: msg})
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

// ListMessages returns the history of the conversation with handle, oldest first.
func (d *DB) ListMessages(ctx context.Context, handle domain.Handle) ([]domain.LocalMessage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.handle, m.id, m.owner, m.data, m.type, m.timestamp, m.file_name, m.file_type, m.file_size, m.state, m.attempts
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE c.handle = ?
		ORDER BY m.timestamp, m.id`, string(handle))
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []domain.LocalMessage
	for rows.Next() {
		var h string
		msg, err := scanMessage(rows, &h)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

// ConversationExists reports whether a conversation row exists for handle.
func (d *DB) ConversationExists(ctx context.Context, handle domain.Handle) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE handle = ?`, string(handle)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "conversation exists")
	}
	return true, nil
}

// HasMessages reports whether the conversation with handle holds at least
// one message.
func (d *DB) HasMessages(ctx context.Context, handle domain.Handle) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE c.handle = ? LIMIT 1`, string(handle)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "has messages")
	}
	return true, nil
}

// HoldMails stores mails in one transaction, after every mail already held.
func (d *DB) HoldMails(ctx context.Context, mails []domain.Mail) error {
	if len(mails) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin hold")
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range mails {
		body, err := json.Marshal(m)
		if err != nil {
			return errors.Wrap(err, "encode held mail")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO held_mails(sender, body) VALUES (?, ?)`, m.Sender.String(), body); err != nil {
			return errors.Wrap(err, "insert held mail")
		}
	}
	return errors.Wrap(tx.Commit(), "commit hold")
}

// HeldMails returns the held mails in the order they were held.
func (d *DB) HeldMails(ctx context.Context) ([]domain.HeldMail, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, body FROM held_mails ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query held mails")
	}
	defer rows.Close()

	var out []domain.HeldMail
	for rows.Next() {
		var (
			h    domain.HeldMail
			body []byte
		)
		if err := rows.Scan(&h.ID, &body); err != nil {
			return nil, errors.Wrap(err, "scan held mail")
		}
		if err := json.Unmarshal(body, &h.Mail); err != nil {
			return nil, errors.Wrapf(err, "decode held mail %d", h.ID)
		}
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "iterate held mails")
}

// ReleaseMail forgets a held mail. Releasing an unknown id is a no-op.
func (d *DB) ReleaseMail(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM held_mails WHERE id = ?`, id)
	return errors.Wrapf(err, "release held mail %d", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, handle *string) (domain.LocalMessage, error) {
	var (
		msg        domain.LocalMessage
		id         int64
		owner      string
		typ        int
		ts         int64
		state      string
		name, mime sql.NullString
		size       sql.NullInt64
	)
	if err := row.Scan(handle, &id, &owner, &msg.Data, &typ, &ts, &name, &mime, &size, &state, &msg.Attempts); err != nil {
		return domain.LocalMessage{}, errors.Wrap(err, "scan message")
	}
	msg.ID = domain.MessageID(id)
	msg.Owner = domain.Owner(owner)
	msg.Type = domain.MessageType(typ)
	msg.Timestamp = time.UnixMilli(ts)
	msg.State = domain.MessageState(state)
	if name.Valid || mime.Valid || size.Valid {
		msg.FileInfo = &domain.FileInfo{Name: name.String, MIMEType: mime.String, Size: size.Int64}
	}
	return msg, nil
}

var (
	_ domain.MessageStore = (*DB)(nil)
	_ domain.MailBacklog  = (*DB)(nil)
)
