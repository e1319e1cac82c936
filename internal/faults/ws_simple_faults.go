package faults

import (
	"github.com/ably/ably-asset-tracking-test-proxy/internal/protocol"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/wsproxy"
)

func newWSSimulation(id, name string, faultType FaultType, deps Dependencies, interceptor wsproxy.Interceptor) FaultSimulation {
	term := wsproxy.New(deps.ListenHost, deps.ListenPort, deps.TargetHost, deps.TargetPort, deps.DialTimeout, deps.logger(), deps.Metrics, name)
	b := newBase(id, name, faultType, term)
	b.onEnable = func() error {
		term.SetInterceptor(interceptor)
		return nil
	}
	b.onResolve = func() error {
		term.SetInterceptor(wsproxy.PassThroughInterceptor{})
		return nil
	}
	return b
}

// NullApplicationLayerFault binds the WS terminator with a pass-through
// interceptor: a baseline exercising the WS path with no perturbation.
type NullApplicationLayerFault struct{ deps Dependencies }

func NewNullApplicationLayerFault(deps Dependencies) *NullApplicationLayerFault {
	return &NullApplicationLayerFault{deps}
}

func (f *NullApplicationLayerFault) Name() string    { return "NullApplicationLayerFault" }
func (f *NullApplicationLayerFault) Type() FaultType { return Nonfatal }
func (f *NullApplicationLayerFault) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, wsproxy.PassThroughInterceptor{})
}

// swallowActionInterceptor drops client-originated frames whose decoded
// action matches swallow, and passes everything else through unchanged.
type swallowActionInterceptor struct {
	swallow protocol.Action
}

func (i swallowActionInterceptor) InterceptConnection(p *wsproxy.ConnectionParams) *wsproxy.ConnectionParams {
	return p
}

func (i swallowActionInterceptor) InterceptFrame(direction wsproxy.Direction, frame wsproxy.Frame) []wsproxy.Action {
	if direction == wsproxy.ClientToUpstream {
		if msg := tryDecode(frame); msg != nil && msg.Action == i.swallow {
			return nil
		}
	}
	return []wsproxy.Action{wsproxy.NewAction(direction, frame)}
}

// AttachUnresponsive swallows client ATTACH messages; everything else,
// including HEARTBEAT, passes through.
type AttachUnresponsive struct{ deps Dependencies }

func NewAttachUnresponsive(deps Dependencies) *AttachUnresponsive { return &AttachUnresponsive{deps} }

func (f *AttachUnresponsive) Name() string    { return "AttachUnresponsive" }
func (f *AttachUnresponsive) Type() FaultType { return Nonfatal }
func (f *AttachUnresponsive) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, swallowActionInterceptor{swallow: protocol.ActionAttach})
}

// DetachUnresponsive swallows client DETACH messages.
type DetachUnresponsive struct{ deps Dependencies }

func NewDetachUnresponsive(deps Dependencies) *DetachUnresponsive { return &DetachUnresponsive{deps} }

func (f *DetachUnresponsive) Name() string    { return "DetachUnresponsive" }
func (f *DetachUnresponsive) Type() FaultType { return Nonfatal }
func (f *DetachUnresponsive) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, swallowActionInterceptor{swallow: protocol.ActionDetach})
}

// swallowPresenceInterceptor drops client PRESENCE messages carrying the
// given presence action, passing everything else through unchanged.
type swallowPresenceInterceptor struct {
	swallow protocol.PresenceAction
}

func (i swallowPresenceInterceptor) InterceptConnection(p *wsproxy.ConnectionParams) *wsproxy.ConnectionParams {
	return p
}

func (i swallowPresenceInterceptor) InterceptFrame(direction wsproxy.Direction, frame wsproxy.Frame) []wsproxy.Action {
	if direction == wsproxy.ClientToUpstream {
		if msg := tryDecode(frame); msg != nil && msg.IsPresenceAction(i.swallow) {
			return nil
		}
	}
	return []wsproxy.Action{wsproxy.NewAction(direction, frame)}
}

// EnterUnresponsive swallows client PRESENCE ENTER frames.
type EnterUnresponsive struct{ deps Dependencies }

func NewEnterUnresponsive(deps Dependencies) *EnterUnresponsive { return &EnterUnresponsive{deps} }

func (f *EnterUnresponsive) Name() string    { return "EnterUnresponsive" }
func (f *EnterUnresponsive) Type() FaultType { return Nonfatal }
func (f *EnterUnresponsive) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, swallowPresenceInterceptor{swallow: protocol.PresenceEnter})
}

// nackPresenceInterceptor recognizes a client PRESENCE message carrying
// the given presence action, suppresses it, and fabricates a non-fatal
// NACK sent back to the client in its place.
type nackPresenceInterceptor struct {
	trigger protocol.PresenceAction
}

func (i nackPresenceInterceptor) InterceptConnection(p *wsproxy.ConnectionParams) *wsproxy.ConnectionParams {
	return p
}

func (i nackPresenceInterceptor) InterceptFrame(direction wsproxy.Direction, frame wsproxy.Frame) []wsproxy.Action {
	if direction == wsproxy.ClientToUpstream {
		if msg := tryDecode(frame); msg != nil && msg.IsPresenceAction(i.trigger) {
			nack := protocol.NACK(msg.MsgSerial, protocol.ErrChannelOperationFailed, nonFatalNackMessage)
			return []wsproxy.Action{wsproxy.NewAction(wsproxy.UpstreamToClient, encodeFrame(nack))}
		}
	}
	return []wsproxy.Action{wsproxy.NewAction(direction, frame)}
}

// EnterFailedWithNonfatalNack NACKs client PRESENCE ENTER attempts instead
// of forwarding them upstream.
type EnterFailedWithNonfatalNack struct{ deps Dependencies }

func NewEnterFailedWithNonfatalNack(deps Dependencies) *EnterFailedWithNonfatalNack {
	return &EnterFailedWithNonfatalNack{deps}
}

func (f *EnterFailedWithNonfatalNack) Name() string    { return "EnterFailedWithNonfatalNack" }
func (f *EnterFailedWithNonfatalNack) Type() FaultType { return Nonfatal }
func (f *EnterFailedWithNonfatalNack) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, nackPresenceInterceptor{trigger: protocol.PresenceEnter})
}

// UpdateFailedWithNonfatalNack NACKs client PRESENCE UPDATE attempts
// instead of forwarding them upstream.
type UpdateFailedWithNonfatalNack struct{ deps Dependencies }

func NewUpdateFailedWithNonfatalNack(deps Dependencies) *UpdateFailedWithNonfatalNack {
	return &UpdateFailedWithNonfatalNack{deps}
}

func (f *UpdateFailedWithNonfatalNack) Name() string    { return "UpdateFailedWithNonfatalNack" }
func (f *UpdateFailedWithNonfatalNack) Type() FaultType { return Nonfatal }
func (f *UpdateFailedWithNonfatalNack) Simulate(id string) FaultSimulation {
	return newWSSimulation(id, f.Name(), f.Type(), f.deps, nackPresenceInterceptor{trigger: protocol.PresenceUpdate})
}
