package faults

import (
	"sync"
	"time"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/proxycore"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/tcptunnel"
)

// NullTransportFault binds the TCP tunnel with no perturbation at all: a
// baseline to exercise that the tunnel itself is transparent.
type NullTransportFault struct{ deps Dependencies }

func NewNullTransportFault(deps Dependencies) *NullTransportFault { return &NullTransportFault{deps} }

func (f *NullTransportFault) Name() string     { return "NullTransportFault" }
func (f *NullTransportFault) Type() FaultType  { return Nonfatal }
func (f *NullTransportFault) Simulate(id string) FaultSimulation {
	tunnel := tcptunnel.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger())
	return newBase(id, f.Name(), f.Type(), tunnel)
}

// TcpConnectionRefused stops the listener on enable so new connection
// attempts fail with ECONNREFUSED, and restarts it on resolve.
type TcpConnectionRefused struct{ deps Dependencies }

func NewTcpConnectionRefused(deps Dependencies) *TcpConnectionRefused {
	return &TcpConnectionRefused{deps}
}

func (f *TcpConnectionRefused) Name() string    { return "TcpConnectionRefused" }
func (f *TcpConnectionRefused) Type() FaultType { return Nonfatal }

func (f *TcpConnectionRefused) Simulate(id string) FaultSimulation {
	tunnel := tcptunnel.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger())
	b := newBase(id, f.Name(), f.Type(), tunnel)
	b.onEnable = func() error { return tunnel.Stop() }
	b.onResolve = func() error { return tunnel.Start() }
	return b
}

// tcpUnresponsiveWindow is how long TcpConnectionUnresponsive blacks out
// forwarding before auto-recovering if resolve is never called.
const tcpUnresponsiveWindow = 5 * time.Second

// TcpConnectionUnresponsive leaves the TCP connection open but stops all
// byte forwarding for a fixed window, simulating a black-holed network
// rather than a severed one.
type TcpConnectionUnresponsive struct {
	deps   Dependencies
	window time.Duration
}

func NewTcpConnectionUnresponsive(deps Dependencies) *TcpConnectionUnresponsive {
	return &TcpConnectionUnresponsive{deps: deps, window: tcpUnresponsiveWindow}
}

func (f *TcpConnectionUnresponsive) Name() string    { return "TcpConnectionUnresponsive" }
func (f *TcpConnectionUnresponsive) Type() FaultType { return Nonfatal }

func (f *TcpConnectionUnresponsive) Simulate(id string) FaultSimulation {
	tunnel := tcptunnel.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger())
	sim := &unresponsiveSimulation{tunnel: tunnel, window: f.window}
	sim.base = newBase(id, f.Name(), f.Type(), tunnel)
	sim.base.onEnable = sim.enable
	sim.base.onResolve = sim.resolve
	sim.base.onCleanUp = sim.cleanUp
	return sim
}

type unresponsiveSimulation struct {
	*base
	tunnel *tcptunnel.Tunnel
	window time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func (s *unresponsiveSimulation) enable() error {
	s.tunnel.SetForwarding(false)
	s.mu.Lock()
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.window, func() { s.tunnel.SetForwarding(true) })
	s.mu.Unlock()
	return nil
}

func (s *unresponsiveSimulation) resolve() error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.tunnel.SetForwarding(true)
	return nil
}

func (s *unresponsiveSimulation) cleanUp() error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	return nil
}

func (s *unresponsiveSimulation) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

var _ proxycore.RealtimeProxy = (*tcptunnel.Tunnel)(nil)
