// Package transport delivers backend record updates to the rest of the
// engine over exactly one channel per handle: a websocket subscription
// (push) or an interval fetch loop (pull). Downstream code receives the
// same callback shape either way and never learns which mode is active.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode selects the channel strategy for a handle.
type Mode string

const (
	// ModeAuto tries push first and falls back to pull when the websocket
	// handshake fails and a fetch function is available.
	ModeAuto Mode = "auto"
	// ModePush uses only the websocket subscription channel.
	ModePush Mode = "push"
	// ModePull uses only the interval fetch loop.
	ModePull Mode = "pull"
)

const (
	defaultPullInterval      = 4 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultReconnectCeiling  = 5 * time.Minute
	defaultHandshakeTimeout  = 10 * time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

var (
	// ErrAuthFailed is surfaced through OnError when the backend rejects the
	// auth handshake. The handle does not retry; the caller must re-open
	// after re-authenticating.
	ErrAuthFailed = errors.New("transport authentication rejected")

	// ErrReconnectCeiling is surfaced through OnError when reconnect
	// attempts have been running longer than the configured ceiling.
	ErrReconnectCeiling = errors.New("transport reconnect budget exhausted")
)

// FetchFunc is the pull-mode data source. It returns the current set of raw
// records for the subscribed collection.
type FetchFunc func(ctx context.Context) ([]map[string]any, error)

// Options configures a single Open call.
type Options struct {
	// URL is the websocket endpoint. Required for push.
	URL string
	// Token authenticates the websocket session. Required for push.
	Token string
	// Collection names the backend collection to subscribe to.
	Collection string
	// Query narrows the subscription server-side. The channel is still not
	// scoped to a single record: consumers filter by id themselves.
	Query map[string]any

	Mode Mode

	// OnUpdate receives every incoming record, push or pull. Required.
	OnUpdate func(record map[string]any)
	// OnError receives non-recoverable failures (auth rejection, reconnect
	// ceiling). Transient failures are retried internally and not surfaced.
	OnError func(err error)
	// Fetch backs pull mode and the auto fallback.
	Fetch FetchFunc

	PullInterval      time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	ReconnectCeiling  time.Duration
	HandshakeTimeout  time.Duration

	// Dialer is swapped out in tests. Defaults to a gorilla/websocket dialer.
	Dialer Dialer

	Logger *zap.Logger
}

func (o *Options) withDefaults() {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.PullInterval <= 0 {
		o.PullInterval = defaultPullInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.ReconnectCeiling <= 0 {
		o.ReconnectCeiling = defaultReconnectCeiling
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = websocketDialer{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *Options) validate() error {
	if o.OnUpdate == nil {
		return fmt.Errorf("OnUpdate callback is required")
	}

	switch o.Mode {
	case ModePull:
		if o.Fetch == nil {
			return fmt.Errorf("pull mode requires a Fetch function")
		}
	case ModePush, ModeAuto:
		if o.URL == "" {
			return fmt.Errorf("push transport requires a websocket URL")
		}
		if o.Collection == "" {
			return fmt.Errorf("push transport requires a collection")
		}
	default:
		return fmt.Errorf("unknown transport mode: %s", o.Mode)
	}

	return nil
}

// Handle owns one live transport and every timer behind it. Close cancels
// them all; a handle is never reusable after Close.
type Handle struct {
	id   string
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	conn  Conn

	closeOnce sync.Once
	done      chan struct{}
}

// Open starts the transport and returns its handle. The handle stays live
// across reconnects until Close is called, the auth handshake is rejected,
// or the reconnect ceiling elapses.
func Open(ctx context.Context, opts Options) (*Handle, error) {
	opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     uuid.NewString(),
		opts:   opts,
		ctx:    hctx,
		cancel: cancel,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
	h.log = opts.Logger.With(zap.String("transport_handle", h.id))

	if opts.Mode == ModePull {
		go func() {
			defer close(h.done)
			h.pullLoop()
		}()
		return h, nil
	}

	go h.run()

	return h, nil
}

// State reports the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the transport has fully stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close tears the transport down deliberately. Any pending reconnect is
// suppressed and no OnError fires.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		conn := h.conn
		h.mu.Unlock()

		// Unblocks a read loop stuck in ReadMessage.
		if conn != nil {
			conn.Close()
		}
	})
}

// run is the push-mode lifecycle: session, then reconnect-with-delay on
// unexpected close, bounded by the reconnect ceiling.
func (h *Handle) run() {
	defer close(h.done)

	subscribedOnce := false
	var reconnectDeadline time.Time

	for {
		subscribed, err := h.session()
		if subscribed {
			subscribedOnce = true
			reconnectDeadline = time.Time{}
		}

		if h.ctx.Err() != nil {
			// Deliberate Close; nothing to surface.
			h.transition(StateClosed)
			return
		}

		if errors.Is(err, ErrAuthFailed) {
			h.transition(StateClosed)
			h.fail(err)
			return
		}

		if !subscribedOnce && h.opts.Mode == ModeAuto && h.opts.Fetch != nil {
			h.log.Warn("push transport unavailable, falling back to pull", zap.Error(err))
			h.pullLoop()
			return
		}

		if reconnectDeadline.IsZero() {
			reconnectDeadline = time.Now().Add(h.opts.ReconnectCeiling)
		}
		if time.Now().After(reconnectDeadline) {
			h.transition(StateClosed)
			h.fail(ErrReconnectCeiling)
			return
		}

		h.log.Warn("transport closed unexpectedly, reconnecting",
			zap.Error(err),
			zap.Duration("delay", h.opts.ReconnectDelay),
		)
		h.transition(StateReconnecting)

		select {
		case <-h.ctx.Done():
			h.transition(StateClosed)
			return
		case <-time.After(h.opts.ReconnectDelay):
		}
	}
}

// session runs one full connect/auth/subscribe/read cycle. It reports
// whether the subscription was established before the cycle ended.
func (h *Handle) session() (bool, error) {
	h.transition(StateConnecting)

	dialCtx, cancelDial := context.WithTimeout(h.ctx, h.opts.HandshakeTimeout)
	conn, err := h.opts.Dialer.Dial(dialCtx, h.opts.URL)
	cancelDial()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", h.opts.URL, err)
	}

	h.setConn(conn)
	defer func() {
		conn.Close()
		h.setConn(nil)
	}()

	if err := h.authenticate(conn); err != nil {
		return false, err
	}
	h.transition(StateAuthenticated)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(clientMessage{
		Type:       messageTypeSubscribe,
		Collection: h.opts.Collection,
		Query:      h.opts.Query,
	}); err != nil {
		return false, fmt.Errorf("subscribe to %s: %w", h.opts.Collection, err)
	}
	h.transition(StateSubscribed)

	// Heartbeat is fire-and-forget: a missing ack is not a failure, only
	// read errors and close events are.
	hbCtx, cancelHeartbeat := context.WithCancel(h.ctx)
	defer cancelHeartbeat()
	go h.heartbeat(hbCtx, conn)

	conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		h.dispatch(conn, data)
	}
}

func (h *Handle) authenticate(conn Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(clientMessage{
		Type:        messageTypeAuth,
		AccessToken: h.opts.Token,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	// The server may interleave other frames before the auth reply.
	conn.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await auth reply: %w", err)
		}

		msg, err := parseServerMessage(data)
		if err != nil {
			h.log.Warn("unparseable frame during auth", zap.Error(err))
			continue
		}

		if msg.Type != messageTypeAuth {
			continue
		}

		if msg.Status != authStatusOK {
			return fmt.Errorf("auth status %q: %w", msg.Status, ErrAuthFailed)
		}

		return nil
	}
}

func (h *Handle) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(clientMessage{Type: messageTypePing}); err != nil {
				h.log.Debug("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handle) dispatch(conn Conn, data []byte) {
	msg, err := parseServerMessage(data)
	if err != nil {
		h.log.Warn("unparseable frame", zap.Error(err))
		return
	}

	switch msg.Type {
	case messageTypeSubscription:
		for _, record := range decodeRecords(msg.Data, h.log) {
			h.opts.OnUpdate(record)
		}
	case messageTypePing:
		// Server-side heartbeat; the backend drops clients that stay silent.
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(clientMessage{Type: messageTypePong}); err != nil {
			h.log.Debug("pong write failed", zap.Error(err))
		}
	case messageTypeAuth:
		// Token refresh acks arrive here; nothing to do for a static token.
	default:
		h.log.Debug("ignoring frame", zap.String("type", msg.Type))
	}
}

// pullLoop fetches the collection on a fixed interval and feeds records
// through the same OnUpdate callback shape as push.
func (h *Handle) pullLoop() {
	h.log.Info("pull transport active", zap.Duration("interval", h.opts.PullInterval))
	h.transition(StateSubscribed)

	ticker := time.NewTicker(h.opts.PullInterval)
	defer ticker.Stop()

	h.pullOnce()

	for {
		select {
		case <-h.ctx.Done():
			h.transition(StateClosed)
			return
		case <-ticker.C:
			h.pullOnce()
		}
	}
}

func (h *Handle) pullOnce() {
	records, err := h.opts.Fetch(h.ctx)
	if err != nil {
		if h.ctx.Err() == nil {
			h.log.Warn("pull fetch failed", zap.Error(err))
		}
		return
	}

	for _, record := range records {
		h.opts.OnUpdate(record)
	}
}

func (h *Handle) setConn(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
}

func (h *Handle) transition(to State) {
	h.mu.Lock()
	from := h.state
	h.state = to
	h.mu.Unlock()

	if from != to {
		h.log.Debug("transport state",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}

func (h *Handle) fail(err error) {
	if h.opts.OnError != nil {
		h.opts.OnError(err)
	}
}
