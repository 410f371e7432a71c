package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned for requests on a connection that has gone away.
var ErrClosed = errors.New("relay connection closed")

// requestHandler answers one inbound request. The returned value becomes the
// frame's result.
type requestHandler func(ctx context.Context, event string, args json.RawMessage) (any, error)

// peer is one end of a request/ack websocket. Both the client and the relay
// server use it: either side may issue requests and answer the other's.
type peer struct {
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration
	handle       requestHandler
	logger       *zap.Logger

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
}

func newPeer(ws *websocket.Conn, writeTimeout time.Duration, handle requestHandler, logger *zap.Logger) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &peer{
		ws:           ws,
		out:          make(chan []byte, 256),
		writeTimeout: writeTimeout,
		handle:       handle,
		logger:       logger,
		pending:      make(map[uint64]chan frame),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *peer) start() {
	go p.writeLoop()
	go p.readLoop()
}

// done is closed once the connection is gone.
func (p *peer) done() <-chan struct{} { return p.ctx.Done() }

// cause reports why the connection closed.
func (p *peer) cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *peer) close(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.cancel()
		_ = p.ws.Close()
	})
}

// request sends event and waits for the answer, decoding it into result
// when result is non-nil.
func (p *peer) request(ctx context.Context, event string, args any, result any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encode %s", event)
	}
	id := p.nextID.Add(1)
	ch := make(chan frame, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, frame{ID: id, Event: event, Args: raw}); err != nil {
		return err
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return errors.Errorf("%s: %s", event, f.Error)
		}
		if result == nil || len(f.Result) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(f.Result, result), "decode %s", event)
	case <-p.done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) send(ctx context.Context, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	select {
	case p.out <- b:
		return nil
	case <-p.done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case b := <-p.out:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				p.close(errors.Wrap(err, "write"))
				return
			}
		case <-p.done():
			return
		}
	}
}

func (p *peer) readLoop() {
	for {
		_, b, err := p.ws.ReadMessage()
		if err != nil {
			p.close(errors.Wrap(err, "read"))
			return
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			p.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.Ack {
			p.mu.Lock()
			ch, ok := p.pending[f.ID]
			p.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		// Handlers may issue requests of their own, so they must not
		// block the read loop.
		go p.answer(f)
	}
}

func (p *peer) answer(req frame) {
	reply := frame{ID: req.ID, Ack: true}
	result, err := p.handle(p.ctx, req.Event, req.Args)
	if err != nil {
		reply.Error = err.Error()
	} else if reply.Result, err = json.Marshal(result); err != nil {
		reply.Error = err.Error()
	}
	if err := p.send(p.ctx, reply); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		p.logger.Warn("answer not sent", zap.String("event", req.Event), zap.Error(err))
	}
}
