// Package wsproxy implements the WebSocket-aware termination layer (C2):
// it accepts the client's realtime handshake, dials the real upstream on
// its behalf, and threads every frame in both directions through a
// pluggable Interceptor so a fault can inspect, rewrite, drop, or answer
// traffic at the message level.
package wsproxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/metrics"
)

// Terminator is a RealtimeProxy that terminates the client's WebSocket
// connection itself and relays application frames to a freshly dialed
// upstream connection.
type Terminator struct {
	listenHost  string
	listenPort  int
	targetHost  string
	targetPort  int
	dialTimeout time.Duration
	logger      *slog.Logger

	// metrics and faultName label the per-frame counters recorded in pump;
	// metrics may be nil (monitoring disabled), in which case recording is
	// a no-op.
	metrics   *metrics.Metrics
	faultName string

	mu          sync.RWMutex
	interceptor Interceptor

	stateMu   sync.Mutex
	started   bool
	server    *http.Server
	listener  net.Listener
	sessions  map[*session]struct{}
	suspended atomic.Bool
}

type session struct {
	client   *websocket.Conn
	upstream *websocket.Conn
	closeOne sync.Once
}

// New builds a Terminator with a pass-through interceptor installed. m and
// faultName label the per-frame counters pump records; m may be nil
// (monitoring disabled).
func New(listenHost string, listenPort int, targetHost string, targetPort int, dialTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics, faultName string) *Terminator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminator{
		listenHost:  listenHost,
		listenPort:  listenPort,
		targetHost:  targetHost,
		targetPort:  targetPort,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "wsproxy"),
		metrics:     m,
		faultName:   faultName,
		interceptor: PassThroughInterceptor{},
		sessions:    make(map[*session]struct{}),
	}
}

func (t *Terminator) ListenHost() string { return t.listenHost }
func (t *Terminator) ListenPort() int    { return t.listenPort }

// SetInterceptor swaps the active interceptor. Safe to call while the
// terminator is serving traffic; it takes effect for the next handshake
// and the next frame on every open session.
func (t *Terminator) SetInterceptor(i Interceptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i == nil {
		i = PassThroughInterceptor{}
	}
	t.interceptor = i
}

func (t *Terminator) Interceptor() Interceptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interceptor
}

// Start is idempotent.
func (t *Terminator) Start() error {
	t.stateMu.Lock()
	if t.started {
		t.stateMu.Unlock()
		return nil
	}
	addr := fmt.Sprintf("%s:%d", t.listenHost, t.listenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.stateMu.Unlock()
		return fmt.Errorf("wsproxy: listen %s: %w", addr, err)
	}
	server := &http.Server{Handler: http.HandlerFunc(t.serveHTTP)}
	t.listener = listener
	t.server = server
	t.started = true
	t.stateMu.Unlock()

	t.logger.Info("terminator listening", "addr", addr, "target", fmt.Sprintf("%s:%d", t.targetHost, t.targetPort))
	go func() {
		_ = server.Serve(listener)
	}()
	return nil
}

// Stop is idempotent and force-closes every open session.
func (t *Terminator) Stop() error {
	t.stateMu.Lock()
	if !t.started {
		t.stateMu.Unlock()
		return nil
	}
	t.started = false
	server := t.server
	sessions := make([]*session, 0, len(t.sessions))
	for s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.stateMu.Unlock()

	if server != nil {
		_ = server.Close()
	}
	for _, s := range sessions {
		s.closeBoth()
	}
	return nil
}

// SetSuspended controls whether new upgrade attempts are rejected outright
// (503, without touching the TCP listener). Existing sessions are
// unaffected; pair with CloseSessions to also drop them.
func (t *Terminator) SetSuspended(suspended bool) {
	t.suspended.Store(suspended)
}

func (t *Terminator) Suspended() bool {
	return t.suspended.Load()
}

// CloseSessions force-closes every currently open session without
// stopping the listener, so new connects keep reaching serveHTTP.
func (t *Terminator) CloseSessions() {
	t.stateMu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.stateMu.Unlock()

	for _, s := range sessions {
		s.closeBoth()
	}
}

func (s *session) closeBoth() {
	s.closeOne.Do(func() {
		_ = s.client.Close(websocket.StatusNormalClosure, "terminator stopped")
		_ = s.upstream.Close(websocket.StatusNormalClosure, "terminator stopped")
	})
}

func (t *Terminator) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if t.suspended.Load() {
		http.Error(w, "connections suspended", http.StatusServiceUnavailable)
		return
	}

	interceptor := t.Interceptor()

	params := FromRequestParameters(r.URL.RawQuery)
	params = interceptor.InterceptConnection(params)
	if params == nil {
		params = NewConnectionParams()
	}

	upstreamURL := url.URL{
		Scheme:   "wss",
		Host:     fmt.Sprintf("%s:%d", t.targetHost, t.targetPort),
		Path:     r.URL.Path,
		RawQuery: params.Encode(),
	}

	dialCtx, cancel := context.WithTimeout(r.Context(), t.dialTimeout)
	defer cancel()
	upstream, _, err := websocket.Dial(dialCtx, upstreamURL.String(), nil)
	if err != nil {
		t.logger.Debug("upstream handshake failed", "target", upstreamURL.String(), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	client, err := websocket.Accept(w, r, nil)
	if err != nil {
		_ = upstream.Close(websocket.StatusInternalError, "accept failed")
		return
	}

	sess := &session{client: client, upstream: upstream}
	t.stateMu.Lock()
	t.sessions[sess] = struct{}{}
	t.stateMu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.pump(ctx, cancel, sess, client, ClientToUpstream)
	}()
	go func() {
		defer wg.Done()
		t.pump(ctx, cancel, sess, upstream, UpstreamToClient)
	}()
	wg.Wait()

	t.stateMu.Lock()
	delete(t.sessions, sess)
	t.stateMu.Unlock()
	sess.closeBoth()
}

// pump reads frames arriving from one side of a session and, for each,
// runs the active interceptor and performs the actions it returns. A
// read error (including a clean or unclean close) is surfaced to the
// interceptor as a synthetic CLOSE frame so a fault can still react to
// connection teardown.
func (t *Terminator) pump(ctx context.Context, cancel context.CancelFunc, sess *session, src *websocket.Conn, direction Direction) {
	defer cancel()
	for {
		typ, payload, err := src.Read(ctx)
		var frame Frame
		if err != nil {
			frame = Frame{Opcode: OpClose, Final: true}
		} else {
			frame = Frame{Opcode: opcodeFromMessageType(typ), Payload: payload, Final: true}
		}

		interceptor := t.Interceptor()
		actions := interceptor.InterceptFrame(direction, frame)
		t.recordFrame(direction, frame, actions)
		for _, action := range actions {
			t.perform(ctx, sess, action)
		}

		if err != nil {
			return
		}
	}
}

// recordFrame labels the per-fault frame counters: one intercepted count
// per frame offered to the interceptor, a dropped count when it answered
// with no actions at all, and a fabricated count for any action that isn't
// a plain same-direction, same-payload forward of the original frame.
func (t *Terminator) recordFrame(direction Direction, frame Frame, actions []Action) {
	if t.metrics == nil {
		return
	}
	t.metrics.FramesIntercepted.WithLabelValues(t.faultName, string(direction)).Inc()
	if len(actions) == 0 {
		t.metrics.FramesDropped.WithLabelValues(t.faultName, string(direction)).Inc()
		return
	}
	for _, action := range actions {
		if action.Direction != direction || !bytes.Equal(action.Frame.Payload, frame.Payload) {
			t.metrics.FramesFabricated.WithLabelValues(t.faultName, string(direction)).Inc()
		}
	}
}

func (t *Terminator) perform(ctx context.Context, sess *session, action Action) {
	dest := sess.upstream
	if action.Direction == UpstreamToClient {
		dest = sess.client
	}

	switch action.Frame.Opcode {
	case OpText:
		_ = dest.Write(ctx, websocket.MessageText, action.Frame.Payload)
	case OpBinary:
		_ = dest.Write(ctx, websocket.MessageBinary, action.Frame.Payload)
	case OpPing:
		_ = dest.Ping(ctx)
	case OpPong:
		// coder/websocket answers pings internally; an explicit PONG
		// action has nothing left to do.
	case OpClose:
		_ = dest.Close(websocket.StatusNormalClosure, string(action.Frame.Payload))
		return
	}

	if action.SendAndClose {
		_ = dest.Close(websocket.StatusNormalClosure, "")
	}
}

func opcodeFromMessageType(typ websocket.MessageType) Opcode {
	if typ == websocket.MessageBinary {
		return OpBinary
	}
	return OpText
}
