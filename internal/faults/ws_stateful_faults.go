package faults

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/protocol"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/wsproxy"
)

// disconnectResumeInterceptor closes the client session the first time it
// forwards a CONNECTED frame after being (re)armed, then strips any
// resume= parameter from the next handshake so upstream is forced to
// start a fresh session instead of resuming.
type disconnectResumeInterceptor struct {
	triggered      atomic.Bool
	resumeStripped atomic.Bool
}

func (i *disconnectResumeInterceptor) InterceptConnection(p *wsproxy.ConnectionParams) *wsproxy.ConnectionParams {
	if _, ok := p.Get("resume"); ok && i.triggered.Load() && i.resumeStripped.CompareAndSwap(false, true) {
		p = p.Clone()
		p.Delete("resume")
	}
	return p
}

func (i *disconnectResumeInterceptor) InterceptFrame(direction wsproxy.Direction, frame wsproxy.Frame) []wsproxy.Action {
	if direction == wsproxy.UpstreamToClient && !i.triggered.Load() {
		if msg := tryDecode(frame); msg != nil && msg.Action == protocol.ActionConnected {
			i.triggered.Store(true)
			return []wsproxy.Action{{Direction: wsproxy.UpstreamToClient, Frame: frame, SendAndClose: true}}
		}
	}
	return []wsproxy.Action{wsproxy.NewAction(direction, frame)}
}

// DisconnectWithFailedResume closes the client session on the first
// CONNECTED frame after enable, then forces the client's reconnect
// attempt to establish a fresh session instead of resuming.
type DisconnectWithFailedResume struct{ deps Dependencies }

func NewDisconnectWithFailedResume(deps Dependencies) *DisconnectWithFailedResume {
	return &DisconnectWithFailedResume{deps}
}

func (f *DisconnectWithFailedResume) Name() string    { return "DisconnectWithFailedResume" }
func (f *DisconnectWithFailedResume) Type() FaultType { return Nonfatal }

func (f *DisconnectWithFailedResume) Simulate(id string) FaultSimulation {
	term := wsproxy.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger(), f.deps.Metrics, f.Name())
	b := newBase(id, f.Name(), f.Type(), term)
	b.onEnable = func() error {
		term.SetInterceptor(&disconnectResumeInterceptor{})
		return nil
	}
	b.onResolve = func() error {
		term.SetInterceptor(wsproxy.PassThroughInterceptor{})
		return nil
	}
	return b
}

// reenterInterceptor forces exactly one upstream resume failure by
// stripping resume= from the handshake that follows arming, then NACKs
// any client PRESENCE ENTER that arrives afterward, forcing the SDK to
// retry re-entry.
type reenterInterceptor struct {
	resumeStripped atomic.Bool
}

func (i *reenterInterceptor) InterceptConnection(p *wsproxy.ConnectionParams) *wsproxy.ConnectionParams {
	if _, ok := p.Get("resume"); ok && !i.resumeStripped.Load() {
		clone := p.Clone()
		clone.Delete("resume")
		i.resumeStripped.Store(true)
		return clone
	}
	return p
}

func (i *reenterInterceptor) InterceptFrame(direction wsproxy.Direction, frame wsproxy.Frame) []wsproxy.Action {
	if direction == wsproxy.ClientToUpstream && i.resumeStripped.Load() {
		if msg := tryDecode(frame); msg != nil && msg.IsPresenceAction(protocol.PresenceEnter) {
			nack := protocol.NACK(msg.MsgSerial, protocol.ErrChannelOperationFailed, nonFatalNackMessage)
			return []wsproxy.Action{wsproxy.NewAction(wsproxy.UpstreamToClient, encodeFrame(nack))}
		}
	}
	return []wsproxy.Action{wsproxy.NewAction(direction, frame)}
}

// ReenterOnResumeFailed forces a resume failure once, then NACKs the
// client's presence re-entry attempts that follow.
type ReenterOnResumeFailed struct{ deps Dependencies }

func NewReenterOnResumeFailed(deps Dependencies) *ReenterOnResumeFailed {
	return &ReenterOnResumeFailed{deps}
}

func (f *ReenterOnResumeFailed) Name() string    { return "ReenterOnResumeFailed" }
func (f *ReenterOnResumeFailed) Type() FaultType { return Nonfatal }

func (f *ReenterOnResumeFailed) Simulate(id string) FaultSimulation {
	term := wsproxy.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger(), f.deps.Metrics, f.Name())
	b := newBase(id, f.Name(), f.Type(), term)
	b.onEnable = func() error {
		term.SetInterceptor(&reenterInterceptor{})
		return nil
	}
	b.onResolve = func() error {
		term.SetInterceptor(wsproxy.PassThroughInterceptor{})
		return nil
	}
	return b
}

// disconnectSuspendWindow bounds how long DisconnectAndSuspend rejects
// new upgrades before auto-recovering if resolve is never called.
const disconnectSuspendWindow = 5 * time.Second

// DisconnectAndSuspend closes the client session immediately, then
// rejects every new upgrade attempt for a fixed window — the one fault in
// the catalog flagged fatal, since the client has no connection left to
// recover within.
type DisconnectAndSuspend struct {
	deps   Dependencies
	window time.Duration
}

func NewDisconnectAndSuspend(deps Dependencies) *DisconnectAndSuspend {
	return &DisconnectAndSuspend{deps: deps, window: disconnectSuspendWindow}
}

func (f *DisconnectAndSuspend) Name() string    { return "DisconnectAndSuspend" }
func (f *DisconnectAndSuspend) Type() FaultType { return Fatal }

func (f *DisconnectAndSuspend) Simulate(id string) FaultSimulation {
	term := wsproxy.New(f.deps.ListenHost, f.deps.ListenPort, f.deps.TargetHost, f.deps.TargetPort, f.deps.DialTimeout, f.deps.logger(), f.deps.Metrics, f.Name())
	sim := &suspendSimulation{term: term, window: f.window}
	sim.base = newBase(id, f.Name(), f.Type(), term)
	sim.base.onEnable = sim.enable
	sim.base.onResolve = sim.resolve
	sim.base.onCleanUp = sim.cleanUp
	return sim
}

type suspendSimulation struct {
	*base
	term   *wsproxy.Terminator
	window time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func (s *suspendSimulation) enable() error {
	s.term.CloseSessions()
	s.term.SetSuspended(true)
	s.mu.Lock()
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.window, func() { s.term.SetSuspended(false) })
	s.mu.Unlock()
	return nil
}

func (s *suspendSimulation) resolve() error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.term.SetSuspended(false)
	return nil
}

func (s *suspendSimulation) cleanUp() error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	return nil
}

func (s *suspendSimulation) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
