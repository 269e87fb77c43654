// Package status tracks per-component readiness for the runtime. Components
// register during startup and transition Initializing -> Ready (or Error);
// accelerated datasets may additionally pass through a transient Refreshing
// state. The aggregate feeds the /v1/ready probe.
package status

import (
	"fmt"
	"sync"

	"github.com/flanksource/commons/logger"
)

// State is the lifecycle state of a single component.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateError
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateRefreshing:
		return "refreshing"
	default:
		return "initializing"
	}
}

// ReadinessPolicy controls when an accelerated dataset is considered ready.
type ReadinessPolicy int

const (
	// ReadyOnFirstLoad marks the dataset ready as soon as its initial load
	// completes.
	ReadyOnFirstLoad ReadinessPolicy = iota
	// ReadyOnFirstRefresh holds the dataset in Initializing until the first
	// refresh cycle completes.
	ReadyOnFirstRefresh
)

// ComponentStatus is the recorded state of a component, with the error detail
// when the state is Error.
type ComponentStatus struct {
	State State
	Err   string

	// lastTerminal remembers the state a Refreshing component returns to.
	lastTerminal State
}

// Registry is the process-wide component status table.
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
}

// NewRegistry returns an empty status registry.
func NewRegistry() *Registry {
	return &Registry{components: map[string]ComponentStatus{}}
}

// Register adds a component in the Initializing state.
func (r *Registry) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[id]; !ok {
		r.components[id] = ComponentStatus{State: StateInitializing, lastTerminal: StateInitializing}
	}
}

// MarkReady transitions a component to Ready.
func (r *Registry) MarkReady(id string) {
	r.update(id, ComponentStatus{State: StateReady, lastTerminal: StateReady})
}

// MarkError transitions a component to Error with the given detail.
func (r *Registry) MarkError(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.update(id, ComponentStatus{State: StateError, Err: msg, lastTerminal: StateError})
}

// MarkRefreshing transitions a component into the transient Refreshing state.
// The component keeps contributing its previous terminal state to readiness:
// a dataset that was Ready stays ready while it refreshes, one that never
// loaded does not become ready by refreshing.
func (r *Registry) MarkRefreshing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.components[id]
	r.components[id] = ComponentStatus{State: StateRefreshing, lastTerminal: prev.lastTerminal}
	logger.Debugf("component %s refreshing (was %s)", id, prev.State)
}

// RefreshComplete returns a Refreshing component to Ready.
func (r *Registry) RefreshComplete(id string) {
	r.MarkReady(id)
}

func (r *Registry) update(id string, s ComponentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[id] = s
	logger.Debugf("component %s -> %s", id, s.State)
}

// Get returns the status of a component.
func (r *Registry) Get(id string) (ComponentStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.components[id]
	return s, ok
}

// All returns a snapshot of every component's status.
func (r *Registry) All() map[string]ComponentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ComponentStatus, len(r.components))
	for id, s := range r.components {
		out[id] = s
	}
	return out
}

// IsReady reports whether every registered component is Ready. A Refreshing
// component counts as ready only if its last terminal state was Ready.
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.components {
		switch s.State {
		case StateReady:
		case StateRefreshing:
			if s.lastTerminal != StateReady {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// NotReadyComponents lists the components currently blocking readiness.
func (r *Registry) NotReadyComponents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.components {
		ready := s.State == StateReady || (s.State == StateRefreshing && s.lastTerminal == StateReady)
		if !ready {
			out = append(out, fmt.Sprintf("%s (%s)", id, s.State))
		}
	}
	return out
}
