// Package servicetest provides in-memory doubles of the capability
// interfaces for service tests.
package servicetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ciphersync/internal/domain"
)

// Engine is a fake domain.SessionEngine. Ciphertext equals plaintext; a
// session flag per address stands in for ratchet state.
type Engine struct {
	mu sync.Mutex

	Local    domain.Address
	Sessions map[domain.Address]bool

	EstablishErr map[domain.Address]error
	EncryptErr   map[domain.Address]error
	// DecryptFn overrides the default decrypt behaviour when set.
	DecryptFn func(domain.Address, domain.CipherMessage) ([]byte, error)
	// PreKeyUntilReply makes Encrypt emit PREKEY messages on fresh sessions.
	PreKeyUntilReply bool
	GenerateErr      error
	// Delay is held inside every per-address call so tests can detect overlap.
	Delay time.Duration

	Establishes map[domain.Address]int
	Encrypts    map[domain.Address]int
	Decrypts    map[domain.Address]int
	Generated   int

	inFlight map[domain.Address]int
	// Overlaps counts calls that started while another call on the same
	// address was still running.
	Overlaps int
}

// NewEngine returns an Engine for the local address.
func NewEngine(local domain.Address) *Engine {
	return &Engine{
		Local:        local,
		Sessions:     map[domain.Address]bool{},
		EstablishErr: map[domain.Address]error{},
		EncryptErr:   map[domain.Address]error{},
		Establishes:  map[domain.Address]int{},
		Encrypts:     map[domain.Address]int{},
		Decrypts:     map[domain.Address]int{},
		inFlight:     map[domain.Address]int{},
	}
}

func (e *Engine) enter(a domain.Address) {
	e.mu.Lock()
	e.inFlight[a]++
	if e.inFlight[a] > 1 {
		e.Overlaps++
	}
	delay := e.Delay
	e.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (e *Engine) leave(a domain.Address) {
	e.mu.Lock()
	e.inFlight[a]--
	e.mu.Unlock()
}

func (e *Engine) LocalAddress() (domain.Address, error) {
	if e.Local.IsZero() {
		return domain.Address{}, domain.ErrNoAccount
	}
	return e.Local, nil
}

func (e *Engine) HasSession(a domain.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Sessions[a], nil
}

func (e *Engine) SetSession(a domain.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Sessions[a] = true
}

func (e *Engine) EstablishSession(a domain.Address, _ domain.PreKeyBundle) error {
	e.enter(a)
	defer e.leave(a)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.Establishes[a]++
	if err := e.EstablishErr[a]; err != nil {
		return err
	}
	e.Sessions[a] = true
	return nil
}

func (e *Engine) Encrypt(a domain.Address, pt []byte) (domain.CipherMessage, error) {
	e.enter(a)
	defer e.leave(a)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.Encrypts[a]++
	if err := e.EncryptErr[a]; err != nil {
		return domain.CipherMessage{}, err
	}
	if !e.Sessions[a] {
		return domain.CipherMessage{}, domain.ErrNoSession
	}
	typ := domain.CipherStandard
	if e.PreKeyUntilReply {
		typ = domain.CipherPreKey
	}
	return domain.CipherMessage{Type: typ, Payload: append([]byte(nil), pt...)}, nil
}

func (e *Engine) Decrypt(a domain.Address, m domain.CipherMessage) ([]byte, error) {
	e.enter(a)
	defer e.leave(a)

	e.mu.Lock()
	e.Decrypts[a]++
	fn := e.DecryptFn
	e.mu.Unlock()
	if fn != nil {
		return fn(a, m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch m.Type {
	case domain.CipherPreKey:
		e.Sessions[a] = true
	case domain.CipherStandard:
		if !e.Sessions[a] {
			return nil, errors.Wrapf(domain.ErrNoSession, "%s", a)
		}
	default:
		return nil, domain.ErrCorruptCipher
	}
	return append([]byte(nil), m.Payload...), nil
}

func (e *Engine) IdentityKey() (domain.IdentityKey, error) {
	if e.GenerateErr != nil {
		return domain.IdentityKey{}, e.GenerateErr
	}
	return domain.IdentityKey{DH: domain.X25519Public{1}, Signing: domain.Ed25519Public{2}}, nil
}

func (e *Engine) GenerateSignedPreKey() (domain.SignedPreKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.GenerateErr != nil {
		return domain.SignedPreKey{}, e.GenerateErr
	}
	e.Generated++
	return domain.SignedPreKey{ID: domain.SignedPreKeyID(e.Generated), Key: domain.X25519Public{3}, Signature: []byte("sig")}, nil
}

func (e *Engine) GenerateOneTimePreKeys(count int) ([]domain.OneTimePreKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.GenerateErr != nil {
		return nil, e.GenerateErr
	}
	out := make([]domain.OneTimePreKey, count)
	for i := range out {
		e.Generated++
		out[i] = domain.OneTimePreKey{ID: domain.OneTimePreKeyID(e.Generated)}
	}
	return out, nil
}

// Sent is one OutGoingMessage call seen by Transport.
type Sent struct {
	From, To domain.Address
	Envelope domain.Envelope
}

// Transport is a fake domain.Transport.
type Transport struct {
	mu sync.Mutex

	Devices map[domain.Handle][]domain.Address
	Bundles map[domain.Address]domain.PreKeyBundle
	// FailSend marks addresses whose sends come back FAILED; SendErr makes
	// them error instead.
	FailSend  map[domain.Address]bool
	SendErr   map[domain.Address]error
	Mailbox   []domain.Mail
	Reject    map[string]bool
	UploadErr error

	Sent       []Sent
	Acks       []domain.Handle
	Uploads    []string
	BundleGets map[domain.Address]int
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{
		Devices:    map[domain.Handle][]domain.Address{},
		Bundles:    map[domain.Address]domain.PreKeyBundle{},
		FailSend:   map[domain.Address]bool{},
		SendErr:    map[domain.Address]error{},
		Reject:     map[string]bool{},
		BundleGets: map[domain.Address]int{},
	}
}

func (t *Transport) CheckMailbox(context.Context) ([]domain.Mail, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.Mailbox
	t.Mailbox = nil
	return out, nil
}

func (t *Transport) upload(kind string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.UploadErr != nil {
		return false, t.UploadErr
	}
	t.Uploads = append(t.Uploads, kind)
	return !t.Reject[kind], nil
}

func (t *Transport) UploadIdentityKey(context.Context, domain.IdentityKey) (bool, error) {
	return t.upload("identity")
}

func (t *Transport) UploadSignedPreKey(context.Context, domain.SignedPreKey) (bool, error) {
	return t.upload("signed")
}

func (t *Transport) UploadPreKeys(context.Context, []domain.OneTimePreKey) (bool, error) {
	return t.upload("prekeys")
}

func (t *Transport) GetAddresses(_ context.Context, h domain.Handle) ([]domain.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Address(nil), t.Devices[h]...), nil
}

func (t *Transport) GetPreKeyBundle(_ context.Context, a domain.Address) (domain.PreKeyBundle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BundleGets[a]++
	b, ok := t.Bundles[a]
	if !ok {
		return domain.PreKeyBundle{}, errors.Wrapf(domain.ErrBundleNotFound, "%s", a)
	}
	return b, nil
}

func (t *Transport) OutGoingMessage(_ context.Context, from, to domain.Address, env domain.Envelope) (domain.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.SendErr[to]; err != nil {
		return domain.SendResult{}, err
	}
	t.Sent = append(t.Sent, Sent{From: from, To: to, Envelope: env})
	if t.FailSend[to] {
		return domain.SendResult{Failed: true}, nil
	}
	return domain.SendResult{SentAt: time.Now()}, nil
}

func (t *Transport) AcknowledgeReceipt(_ context.Context, h domain.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Acks = append(t.Acks, h)
	return nil
}

// SentTo returns the envelopes sent to a, in order.
func (t *Transport) SentTo(a domain.Address) []domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Envelope
	for _, s := range t.Sent {
		if s.To == a {
			out = append(out, s.Envelope)
		}
	}
	return out
}

// Messages is an in-memory domain.MessageStore.
type Messages struct {
	mu     sync.Mutex
	nextID domain.MessageID
	rows   map[domain.MessageID]domain.PendingMessage
	convs  map[domain.Handle]bool

	SaveErr error
	// HistoryErr fails HasMessages when set.
	HistoryErr error
	// HoldErr fails HoldMails when set.
	HoldErr error

	held   []domain.HeldMail
	heldID int64
}

// NewMessages returns an empty Messages store.
func NewMessages() *Messages {
	return &Messages{rows: map[domain.MessageID]domain.PendingMessage{}, convs: map[domain.Handle]bool{}}
}

func (m *Messages) SaveMessage(_ context.Context, h domain.Handle, msg domain.LocalMessage) (domain.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return 0, m.SaveErr
	}
	m.nextID++
	msg.ID = m.nextID
	m.rows[msg.ID] = domain.PendingMessage{Handle: h, Message: msg}
	m.convs[h] = true
	return msg.ID, nil
}

func (m *Messages) UpdateMessageState(_ context.Context, id domain.MessageID, s domain.MessageState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return errors.Errorf("message %d not found", id)
	}
	row.Message.State = s
	m.rows[id] = row
	return nil
}

func (m *Messages) RecordAttempt(_ context.Context, id domain.MessageID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return 0, errors.Errorf("message %d not found", id)
	}
	row.Message.Attempts++
	m.rows[id] = row
	return row.Message.Attempts, nil
}

func (m *Messages) QueryMessagesByState(_ context.Context, s domain.MessageState) ([]domain.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingMessage
	for _, row := range m.rows {
		if row.Message.State == s {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message.ID < out[j].Message.ID })
	return out, nil
}

func (m *Messages) ConversationExists(_ context.Context, h domain.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[h], nil
}

func (m *Messages) HasMessages(_ context.Context, h domain.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return false, m.HistoryErr
	}
	for _, row := range m.rows {
		if row.Handle == h {
			return true, nil
		}
	}
	return false, nil
}

func (m *Messages) ListMessages(_ context.Context, h domain.Handle) ([]domain.LocalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LocalMessage
	for _, row := range m.rows {
		if row.Handle == h {
			out = append(out, row.Message)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a stored message by id.
func (m *Messages) Get(id domain.MessageID) (domain.LocalMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row.Message, ok
}

func (m *Messages) HoldMails(_ context.Context, mails []domain.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HoldErr != nil {
		return m.HoldErr
	}
	for _, mail := range mails {
		m.heldID++
		m.held = append(m.held, domain.HeldMail{ID: m.heldID, Mail: mail})
	}
	return nil
}

func (m *Messages) HeldMails(context.Context) ([]domain.HeldMail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HeldMail(nil), m.held...), nil
}

func (m *Messages) ReleaseMail(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.held {
		if h.ID == id {
			m.held = append(m.held[:i], m.held[i+1:]...)
			break
		}
	}
	return nil
}

var (
	_ domain.SessionEngine = (*Engine)(nil)
	_ domain.Transport     = (*Transport)(nil)
	_ domain.MessageStore  = (*Messages)(nil)
	_ domain.MailBacklog   = (*Messages)(nil)
)
