package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

const (
	DefaultPushTimeout    = 10 * time.Second
	DefaultPreKeyLowWater = 10
)

var errReplaced = errors.New("replaced by a newer connection")

// ServerOptions tunes a Server.
type ServerOptions struct {
	WriteTimeout time.Duration
	// PushTimeout bounds how long a live push waits for the recipient's
	// answer before the message falls back to the mailbox.
	PushTimeout time.Duration
	// PreKeyLowWater is the one-time prekey count under which a connecting
	// device is asked for more.
	PreKeyLowWater int
	Logger         *zap.Logger
}

// device is what the relay knows about one registered device.
type device struct {
	registrationID domain.RegistrationID
	identity       *domain.IdentityKey
	signed         *domain.SignedPreKey
	prekeys        []domain.OneTimePreKey
}

// Server is a single-process development relay. It keeps key material and
// mailboxes in memory.
type Server struct {
	opts     ServerOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
	hub      *hub

	mu        sync.Mutex
	devices   map[domain.Address]*device
	mailboxes map[domain.Address][]domain.Mail
}

func NewServer(opts ServerOptions) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.PreKeyLowWater <= 0 {
		opts.PreKeyLowWater = DefaultPreKeyLowWater
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		logger: logger.Named("relay-server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub:       newHub(),
		devices:   make(map[domain.Address]*device),
		mailboxes: make(map[domain.Address][]domain.Mail),
	}
}

// Online returns the number of connected devices.
func (s *Server) Online() int { return s.hub.len() }

// HasBundle reports whether addr has published enough to be handed a bundle.
func (s *Server) HasBundle(addr domain.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[addr]
	return ok && d.identity != nil && d.signed != nil
}

// ServeHTTP upgrades /ws?name=...&deviceId=...&registrationId=... requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get(paramName)
	dev, err := strconv.ParseUint(q.Get(paramDeviceID), 10, 32)
	if name == "" || err != nil || dev == 0 {
		http.Error(w, "missing name or deviceId", http.StatusBadRequest)
		return
	}
	reg, _ := strconv.ParseUint(q.Get(paramRegistrationID), 10, 32)
	addr := domain.NewAddress(domain.Handle(name), domain.DeviceID(dev))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	d := s.device(addr)
	d.registrationID = domain.RegistrationID(reg)
	s.mu.Unlock()

	logger := s.logger.With(zap.Stringer("address", addr))
	p := newPeer(ws, s.opts.WriteTimeout, func(ctx context.Context, event string, args json.RawMessage) (any, error) {
		return s.handle(ctx, addr, event, args)
	}, logger)
	if old := s.hub.set(addr, p); old != nil {
		old.close(errReplaced)
	}
	metrics.RelayOnlineConns.Set(float64(s.hub.len()))
	p.start()
	logger.Info("device connected")

	go func() {
		<-p.done()
		s.hub.del(addr, p)
		metrics.RelayOnlineConns.Set(float64(s.hub.len()))
		logger.Info("device disconnected", zap.Error(p.cause()))
	}()
	go s.pushRequirement(addr, p)
}

// device returns the record for addr, creating it. Callers hold s.mu.
func (s *Server) device(addr domain.Address) *device {
	d, ok := s.devices[addr]
	if !ok {
		d = &device{}
		s.devices[addr] = d
	}
	return d
}

func (s *Server) pushRequirement(addr domain.Address, p *peer) {
	s.mu.Lock()
	d := s.device(addr)
	req := domain.KeyBundleRequirement{
		NeedIdentityKey:  d.identity == nil,
		NeedSignedPreKey: d.signed == nil,
		NeedPreKeys:      len(d.prekeys) < s.opts.PreKeyLowWater,
	}
	s.mu.Unlock()
	if !req.Any() {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, s.opts.PushTimeout)
	defer cancel()
	if err := p.request(ctx, EventBundleRequirement, req, nil); err != nil {
		s.logger.Warn("bundleRequirement push failed", zap.Stringer("address", addr), zap.Error(err))
	}
}

func (s *Server) handle(ctx context.Context, addr domain.Address, event string, args json.RawMessage) (any, error) {
	switch event {
	case EventCheckMailbox:
		s.mu.Lock()
		mails := s.mailboxes[addr]
		delete(s.mailboxes, addr)
		s.mu.Unlock()
		if mails == nil {
			mails = []domain.Mail{}
		}
		return mails, nil

	case EventUploadIdentityKey:
		var key domain.IdentityKey
		if err := json.Unmarshal(args, &key); err != nil || key.DH.IsZero() {
			return false, nil
		}
		s.mu.Lock()
		s.device(addr).identity = &key
		s.mu.Unlock()
		return true, nil

	case EventUploadSignedPreKey:
		var key domain.SignedPreKey
		if err := json.Unmarshal(args, &key); err != nil || len(key.Signature) == 0 {
			return false, nil
		}
		s.mu.Lock()
		s.device(addr).signed = &key
		s.mu.Unlock()
		return true, nil

	case EventUploadPreKeys:
		var keys []domain.OneTimePreKey
		if err := json.Unmarshal(args, &keys); err != nil || len(keys) == 0 {
			return false, nil
		}
		s.mu.Lock()
		d := s.device(addr)
		d.prekeys = append(d.prekeys, keys...)
		s.mu.Unlock()
		return true, nil

	case EventGetAddresses:
		var in handleArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, errors.Wrap(err, "decode getAddresses")
		}
		return s.addresses(in.Name), nil

	case EventGetPreKeyBundle:
		var target domain.Address
		if err := json.Unmarshal(args, &target); err != nil {
			return nil, errors.Wrap(err, "decode getPreKeyBundle")
		}
		return s.bundle(target), nil

	case EventOutGoingMessage:
		var in outGoingArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, errors.Wrap(err, "decode outGoingMessage")
		}
		if in.From != addr {
			return nil, errors.Errorf("sender %s does not match connection %s", in.From, addr)
		}
		return s.route(ctx, addr, in.To, in.Message), nil

	case EventAcknowledgeReceipt:
		var in handleArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, errors.Wrap(err, "decode acknowledgeReceipt")
		}
		s.logger.Debug("receipt acknowledged", zap.Stringer("address", addr), zap.Stringer("handle", in.Name))
		return true, nil

	default:
		return nil, errors.Errorf("unknown event %q", event)
	}
}

// addresses lists the devices of handle that have published an identity.
func (s *Server) addresses(handle domain.Handle) []domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Address{}
	for addr, d := range s.devices {
		if addr.Handle == handle && d.identity != nil {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// bundle builds a bundle for target, consuming one one-time prekey. It
// returns nil when the device has not published enough material.
func (s *Server) bundle(target domain.Address) *domain.PreKeyBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[target]
	if !ok || d.identity == nil || d.signed == nil {
		return nil
	}
	b := &domain.PreKeyBundle{
		RegistrationID:        d.registrationID,
		DeviceID:              target.DeviceID,
		SignedPreKeyID:        d.signed.ID,
		SignedPreKey:          d.signed.Key,
		SignedPreKeySignature: d.signed.Signature,
		IdentityKey:           *d.identity,
	}
	if len(d.prekeys) > 0 {
		opk := d.prekeys[0]
		d.prekeys = d.prekeys[1:]
		b.PreKeyID = &opk.ID
		b.PreKey = &opk.Key
	}
	return b
}

// route pushes env to an online recipient and parks it in the mailbox when
// the recipient is offline or did not process it.
func (s *Server) route(ctx context.Context, from, to domain.Address, env domain.Envelope) domain.SendResult {
	s.mu.Lock()
	d, known := s.devices[to]
	known = known && d.identity != nil
	s.mu.Unlock()
	if !known {
		return domain.SendResult{Failed: true}
	}

	if p, ok := s.hub.get(to); ok {
		pctx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
		var ack domain.IncomingAck
		err := p.request(pctx, EventInComingMessage, inComingArgs{Sender: from, Message: env}, &ack)
		cancel()
		if err == nil && ack.IsProcessed {
			metrics.RelayLivePushed.Inc()
			return domain.SendResult{SentAt: time.Now().UTC()}
		}
		s.logger.Debug("live push not processed",
			zap.Stringer("to", to), zap.Bool("processed", ack.IsProcessed), zap.Error(err))
	}

	s.mu.Lock()
	s.mailboxes[to] = append(s.mailboxes[to], domain.Mail{Sender: from, Message: env})
	s.mu.Unlock()
	metrics.RelayMailboxQueued.Inc()
	return domain.SendResult{SentAt: time.Now().UTC()}
}
