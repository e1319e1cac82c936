// Package faults is the fault catalog (C5): concrete, named failure modes
// that each bind a proxy layer (tcptunnel or wsproxy) to a small piece of
// fault-specific state, exposed uniformly through the FaultSimulation
// lifecycle so the registry never needs to know which fault it's holding.
package faults

import (
	"errors"
	"sync"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/proxycore"
)

// FaultType is the public contract a client under test can key its
// recovery-logic assertions on.
type FaultType string

const (
	Nonfatal           FaultType = "Nonfatal"
	NonfatalWithResume FaultType = "NonfatalWithResume"
	Fatal              FaultType = "Fatal"
)

// State is where a FaultSimulation sits in its lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateIdle      State = "idle"
	StateActive    State = "active"
	StateResolved  State = "resolved"
	StateDestroyed State = "destroyed"
)

// ErrDestroyed is returned by Enable/Resolve on a simulation that has
// already been cleaned up; callers surface it as a client error.
var ErrDestroyed = errors.New("faults: simulation has been cleaned up")

// Fault is the static descriptor: a name, a type, and a factory that mints
// a fresh, idle FaultSimulation bound to the given externally supplied id.
type Fault interface {
	Name() string
	Type() FaultType
	Simulate(id string) FaultSimulation
}

// FaultSimulation is a live, per-run instance of a Fault. Proxy() exposes
// the bound RealtimeProxy so the registry can start/stop it without
// knowing which concrete fault it is.
type FaultSimulation interface {
	ID() string
	Name() string
	Type() FaultType
	Proxy() proxycore.RealtimeProxy
	State() State
	Enable() error
	Resolve() error
	CleanUp() error
}

// base implements the shared lifecycle bookkeeping every concrete
// simulation embeds: state transitions and the locking discipline around
// them. Concrete faults supply onEnable/onResolve/onCleanUp to do the
// actual work under the same lock-free window (the hooks run without
// base's mutex held, since they may touch other locks of their own, e.g.
// a timer or a terminator's interceptor reference).
type base struct {
	id        string
	name      string
	faultType FaultType
	proxy     proxycore.RealtimeProxy

	mu    sync.Mutex
	state State

	onEnable  func() error
	onResolve func() error
	onCleanUp func() error
}

func newBase(id, name string, faultType FaultType, proxy proxycore.RealtimeProxy) *base {
	return &base{
		id:        id,
		name:      name,
		faultType: faultType,
		proxy:     proxy,
		state:     StateIdle,
	}
}

func (b *base) ID() string                     { return b.id }
func (b *base) Name() string                   { return b.name }
func (b *base) Type() FaultType                { return b.faultType }
func (b *base) Proxy() proxycore.RealtimeProxy { return b.proxy }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Enable transitions idle/resolved/active -> active. Destroyed is terminal.
func (b *base) Enable() error {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.state = StateActive
	b.mu.Unlock()

	if b.onEnable != nil {
		return b.onEnable()
	}
	return nil
}

// Resolve transitions active/idle -> resolved. Destroyed is terminal.
func (b *base) Resolve() error {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.state = StateResolved
	b.mu.Unlock()

	if b.onResolve != nil {
		return b.onResolve()
	}
	return nil
}

// CleanUp is idempotent from any state: it always succeeds, and only the
// first call actually tears anything down.
func (b *base) CleanUp() error {
	b.mu.Lock()
	alreadyDestroyed := b.state == StateDestroyed
	b.state = StateDestroyed
	b.mu.Unlock()

	if alreadyDestroyed {
		return nil
	}
	if b.proxy != nil {
		_ = b.proxy.Stop()
	}
	if b.onCleanUp != nil {
		return b.onCleanUp()
	}
	return nil
}
