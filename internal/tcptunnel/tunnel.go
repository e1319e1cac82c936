// Package tcptunnel implements the raw byte-forwarding layer (C1): a
// TLS-terminating-on-the-way-out TCP proxy that sits in front of the
// upstream realtime host before any WebSocket framing is understood.
// It exists so faults that need to behave below the WebSocket layer —
// refusing the TCP connection outright, or accepting it and then never
// writing another byte — have somewhere to bind.
package tcptunnel

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

var hostHeaderRE = regexp.MustCompile(`(?m)^Host: [^\r\n]*\r\n`)

// Tunnel accepts plaintext TCP connections on listenHost:listenPort and
// pipes them byte-for-byte to a TLS connection to targetHost:targetPort,
// rewriting the first Host header it sees on the client-to-server side
// and gating all forwarding on isForwarding.
type Tunnel struct {
	listenHost  string
	listenPort  int
	targetHost  string
	targetPort  int
	dialTimeout time.Duration
	logger      *slog.Logger

	isForwarding atomic.Bool

	// insecureSkipVerify disables verification of the upstream certificate.
	// Only meant for pointing the tunnel at a self-signed staging or test
	// upstream; left false it must never be set true against a public one.
	insecureSkipVerify bool

	mu       sync.Mutex
	started  bool
	listener net.Listener
	conns    map[*tunnelConn]struct{}
	wg       sync.WaitGroup
}

type tunnelConn struct {
	client net.Conn
	target net.Conn
}

// New builds a Tunnel. Forwarding starts enabled; a fault flips it off via
// SetForwarding(false) to simulate an unresponsive connection without
// tearing it down.
func New(listenHost string, listenPort int, targetHost string, targetPort int, dialTimeout time.Duration, logger *slog.Logger) *Tunnel {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tunnel{
		listenHost:  listenHost,
		listenPort:  listenPort,
		targetHost:  targetHost,
		targetPort:  targetPort,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "tcptunnel"),
		conns:       make(map[*tunnelConn]struct{}),
	}
	t.isForwarding.Store(true)
	return t
}

func (t *Tunnel) ListenHost() string { return t.listenHost }
func (t *Tunnel) ListenPort() int    { return t.listenPort }

// SetForwarding toggles whether bytes read from either side are written to
// the other. Already-buffered reads are silently dropped while disabled.
func (t *Tunnel) SetForwarding(enabled bool) {
	t.isForwarding.Store(enabled)
}

func (t *Tunnel) IsForwarding() bool {
	return t.isForwarding.Load()
}

// SetInsecureSkipVerify disables upstream certificate verification. Must be
// set, if at all, before Start; tests use it to dial a self-signed stub
// upstream instead of the real realtime host.
func (t *Tunnel) SetInsecureSkipVerify(skip bool) {
	t.insecureSkipVerify = skip
}

// Start is idempotent: calling it on an already-started tunnel is a no-op.
func (t *Tunnel) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	addr := fmt.Sprintf("%s:%d", t.listenHost, t.listenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("tcptunnel: listen %s: %w", addr, err)
	}
	t.listener = listener
	t.started = true
	t.mu.Unlock()

	t.logger.Info("tunnel listening", "addr", addr, "target", fmt.Sprintf("%s:%d", t.targetHost, t.targetPort))
	go t.acceptLoop(listener)
	return nil
}

// Stop is idempotent and closes every connection currently tunneled.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	listener := t.listener
	t.listener = nil
	conns := make([]*tunnelConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range conns {
		_ = c.client.Close()
		_ = c.target.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *Tunnel) acceptLoop(listener net.Listener) {
	for {
		clientConn, err := listener.Accept()
		if err != nil {
			return
		}
		go t.handleConn(clientConn)
	}
}

func (t *Tunnel) handleConn(clientConn net.Conn) {
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	targetAddr := fmt.Sprintf("%s:%d", t.targetHost, t.targetPort)
	targetConn, err := tls.DialWithDialer(dialer, "tcp", targetAddr, &tls.Config{
		ServerName:         t.targetHost,
		InsecureSkipVerify: t.insecureSkipVerify,
	})
	if err != nil {
		t.logger.Debug("upstream dial failed", "target", targetAddr, "error", err)
		_ = clientConn.Close()
		return
	}

	tc := &tunnelConn{client: clientConn, target: targetConn}
	t.mu.Lock()
	t.conns[tc] = struct{}{}
	t.mu.Unlock()
	t.wg.Add(1)

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = clientConn.Close()
			_ = targetConn.Close()
		})
	}

	var dirWG sync.WaitGroup
	dirWG.Add(2)
	go func() {
		defer dirWG.Done()
		t.forward(clientConn, targetConn, true)
		closeBoth()
	}()
	go func() {
		defer dirWG.Done()
		t.forward(targetConn, clientConn, false)
		closeBoth()
	}()
	dirWG.Wait()

	t.mu.Lock()
	delete(t.conns, tc)
	t.mu.Unlock()
	t.wg.Done()
}

// forward copies src into dst. When rewriteHost is true, the first
// non-empty read has its Host header substituted before the forwarding
// gate is consulted, so the rewrite happens exactly once per connection
// regardless of whether that first chunk ends up forwarded or dropped.
func (t *Tunnel) forward(src, dst net.Conn, rewriteHost bool) {
	buf := make([]byte, 4*1024)
	first := true
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if rewriteHost && first {
				chunk = rewriteHostHeader(chunk, t.targetHost)
				first = false
			}
			if t.isForwarding.Load() {
				if _, werr := dst.Write(chunk); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func rewriteHostHeader(data []byte, targetHost string) []byte {
	loc := hostHeaderRE.FindIndex(data)
	if loc == nil {
		return data
	}
	replacement := fmt.Sprintf("Host: %s\r\n", targetHost)
	out := make([]byte, 0, len(data)-(loc[1]-loc[0])+len(replacement))
	out = append(out, data[:loc[0]]...)
	out = append(out, replacement...)
	out = append(out, data[loc[1]:]...)
	return out
}
