package media

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a long-running media component.
type State int32

const (
	StateStopped State = iota // Initial; component is re-initializable
	StateInitializing
	StateInitialized
	StateStarting
	StateStarted
	StateSuspending
	StateSuspended
	StateStopping
	StateError
	StateDestroyed // Terminal
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateSuspending:
		return "suspending"
	case StateSuspended:
		return "suspended"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Component is the capability a Lifecycle drives. Each method runs while
// the lifecycle is in the matching intermediate state; returning an error
// moves the lifecycle to StateError.
type Component interface {
	InitInternal() error
	StartInternal() error
	SuspendInternal() error
	StopInternal() error
	DestroyInternal() error
}

// StateListener observes every state change with the previous and new state.
type StateListener func(prev, next State)

// StateEvent is a state change delivered through Lifecycle.Events.
type StateEvent struct {
	Prev State
	Next State
	Err  error // Set when Next is StateError
}

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	Name        string       // Used in log records
	Logger      *slog.Logger // nil = slog.Default()
	EventBuffer int          // Capacity of the Events channel (0 = 16)
}

// Lifecycle is the state machine composed into mixers, recorders and other
// long-running components. Operations are serialized; listeners run
// synchronously on the calling goroutine after each transition completes.
type Lifecycle struct {
	name      string
	component Component
	log       *slog.Logger

	mu    sync.Mutex // Serializes operations
	state atomic.Int32
	prev  atomic.Int32

	listenersMu sync.RWMutex
	listeners   []*StateListener

	events chan StateEvent
}

// NewLifecycle creates a lifecycle in StateStopped driving c.
func NewLifecycle(c Component, config LifecycleConfig) *Lifecycle {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	n := config.EventBuffer
	if n <= 0 {
		n = 16
	}
	l := &Lifecycle{
		name:      config.Name,
		component: c,
		log:       log,
		events:    make(chan StateEvent, n),
	}
	l.state.Store(int32(StateStopped))
	l.prev.Store(int32(StateStopped))
	return l
}

// State returns the current state.
func (l *Lifecycle) State() State { return State(l.state.Load()) }

// PreviousState returns the state before the last transition.
func (l *Lifecycle) PreviousState() State { return State(l.prev.Load()) }

// Started reports whether the component is in StateStarted.
func (l *Lifecycle) Started() bool { return l.State() == StateStarted }

// Suspended reports whether the component is in StateSuspended.
func (l *Lifecycle) Suspended() bool { return l.State() == StateSuspended }

// AddListener registers fn and returns a function that removes it.
// Listeners run with the operation lock held and must not call back into
// Init, Start, Suspend, Stop or Destroy.
func (l *Lifecycle) AddListener(fn StateListener) (remove func()) {
	ptr := &fn
	l.listenersMu.Lock()
	l.listeners = append(l.listeners, ptr)
	l.listenersMu.Unlock()

	return func() {
		l.listenersMu.Lock()
		defer l.listenersMu.Unlock()
		for i, p := range l.listeners {
			if p == ptr {
				l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
				return
			}
		}
	}
}

// Events returns a channel receiving every transition. Events are dropped
// when the channel is full so a slow reader never blocks a transition.
func (l *Lifecycle) Events() <-chan StateEvent { return l.events }

// Init runs Stopped -> Initializing -> Initialized.
func (l *Lifecycle) Init() error {
	return l.run("init", []State{StateStopped}, StateInitializing, StateInitialized, l.component.InitInternal)
}

// Start runs Initialized|Suspended -> Starting -> Started. Starting from
// Suspended resumes with buffered state intact.
func (l *Lifecycle) Start() error {
	return l.run("start", []State{StateInitialized, StateSuspended}, StateStarting, StateStarted, l.component.StartInternal)
}

// Suspend runs Started -> Suspending -> Suspended.
func (l *Lifecycle) Suspend() error {
	return l.run("suspend", []State{StateStarted}, StateSuspending, StateSuspended, l.component.SuspendInternal)
}

// Stop runs Started|Suspended|Error -> Stopping -> Stopped.
func (l *Lifecycle) Stop() error {
	return l.run("stop", []State{StateStarted, StateSuspended, StateError}, StateStopping, StateStopped, l.component.StopInternal)
}

// Destroy releases the component permanently. Legal from Stopped and Error.
func (l *Lifecycle) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.State()
	if cur != StateStopped && cur != StateError {
		return &IllegalStateTransitionError{Op: "destroy", State: cur}
	}
	if err := l.component.DestroyInternal(); err != nil {
		err = fmt.Errorf("%s destroy: %w", l.name, err)
		l.transition(StateError, err)
		return err
	}
	l.transition(StateDestroyed, nil)
	return nil
}

func (l *Lifecycle) run(op string, from []State, via, to State, step func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.State()
	allowed := false
	for _, s := range from {
		if cur == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return &IllegalStateTransitionError{Op: op, State: cur}
	}

	l.transition(via, nil)
	if err := step(); err != nil {
		err = fmt.Errorf("%s %s: %w", l.name, op, err)
		l.log.Error("lifecycle step failed", "component", l.name, "op", op, "error", err)
		l.transition(StateError, err)
		return err
	}
	l.transition(to, nil)
	return nil
}

// transition must be called with mu held.
func (l *Lifecycle) transition(next State, err error) {
	prev := State(l.state.Swap(int32(next)))
	l.prev.Store(int32(prev))

	l.log.Debug("state changed", "component", l.name, "from", prev, "to", next)

	l.listenersMu.RLock()
	listeners := make([]*StateListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.listenersMu.RUnlock()

	for _, fn := range listeners {
		(*fn)(prev, next)
	}

	select {
	case l.events <- StateEvent{Prev: prev, Next: next, Err: err}:
	default:
	}
}
