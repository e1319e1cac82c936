// Package registry implements the simulation registry and control surface
// (C6): a keyed map of live fault simulations, and the handful of
// lifecycle operations the REST layer dispatches into it.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/faults"
)

// ErrUnknownFault is returned by CreateSimulation when name isn't in the
// catalog.
var ErrUnknownFault = errors.New("registry: unknown fault name")

// ErrUnknownSimulation is returned by Enable/Resolve/CleanUp when id was
// never registered (cleaned-up simulations stay registered; see CleanUp).
var ErrUnknownSimulation = errors.New("registry: unknown simulation id")

// ProxyDescriptor is the listenPort projection returned to callers.
type ProxyDescriptor struct {
	ListenPort int `json:"listenPort"`
}

// Descriptor is the JSON shape returned from CreateSimulation.
type Descriptor struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Type  faults.FaultType  `json:"type"`
	Proxy ProxyDescriptor   `json:"proxy"`
}

// Registry holds every live simulation, keyed by id. All mutation is
// serialized through a single lock; no operation performs I/O while
// holding it — the lock guards the map, not the simulations it points to.
type Registry struct {
	catalog map[string]faults.Fault

	mu          sync.Mutex
	simulations map[string]faults.FaultSimulation
}

// New builds a Registry bound to the given fault catalog.
func New(catalog map[string]faults.Fault) *Registry {
	return &Registry{
		catalog:     catalog,
		simulations: make(map[string]faults.FaultSimulation),
	}
}

// ListFaults enumerates the catalog's names, sorted for deterministic
// output.
func (r *Registry) ListFaults() []string {
	names := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateSimulation mints a fresh simulation for the named fault, starts
// its proxy, and registers it.
func (r *Registry) CreateSimulation(name string) (Descriptor, error) {
	fault, ok := r.catalog[name]
	if !ok {
		return Descriptor{}, ErrUnknownFault
	}

	id := uuid.NewString()
	sim := fault.Simulate(id)
	if err := sim.Proxy().Start(); err != nil {
		return Descriptor{}, err
	}

	r.mu.Lock()
	r.simulations[id] = sim
	r.mu.Unlock()

	return Descriptor{
		ID:   id,
		Name: name,
		Type: sim.Type(),
		Proxy: ProxyDescriptor{
			ListenPort: sim.Proxy().ListenPort(),
		},
	}, nil
}

func (r *Registry) lookup(id string) (faults.FaultSimulation, error) {
	r.mu.Lock()
	sim, ok := r.simulations[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSimulation
	}
	return sim, nil
}

// FaultName returns the fault name backing id, if it's registered — used
// by the control API to label metrics without re-deciding lifecycle
// semantics itself.
func (r *Registry) FaultName(id string) (string, bool) {
	sim, err := r.lookup(id)
	if err != nil {
		return "", false
	}
	return sim.Name(), true
}

// State returns the current lifecycle state of the simulation backing id,
// if it's registered — used by the control API to tell a simulation's
// first clean-up apart from a idempotent repeat without mutating anything.
func (r *Registry) State(id string) (faults.State, error) {
	sim, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return sim.State(), nil
}

// Enable looks up id and enables its simulation.
func (r *Registry) Enable(id string) error {
	sim, err := r.lookup(id)
	if err != nil {
		return err
	}
	return sim.Enable()
}

// Resolve looks up id and resolves its simulation.
func (r *Registry) Resolve(id string) error {
	sim, err := r.lookup(id)
	if err != nil {
		return err
	}
	return sim.Resolve()
}

// CleanUp looks up id and tears it down. The entry is deliberately kept in
// the registry (rather than deleted) so a repeated CleanUp(id) on the same
// id keeps resolving to the same, already-destroyed simulation and
// succeeds as a no-op — deleting it here would turn the second call into
// an unknown-id lookup and violate cleanUp's idempotence.
func (r *Registry) CleanUp(id string) error {
	sim, err := r.lookup(id)
	if err != nil {
		return err
	}
	return sim.CleanUp()
}

// Shutdown cleans up every registered simulation, regardless of its
// current state. Called once, from the process's signal handler, so every
// listener and open connection the proxy holds is released before exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sims := make([]faults.FaultSimulation, 0, len(r.simulations))
	for _, sim := range r.simulations {
		sims = append(sims, sim)
	}
	r.mu.Unlock()

	for _, sim := range sims {
		_ = sim.CleanUp()
	}
}
