package manager

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

// State is the active leaf of the port manager state machine.
type State uint32

const (
	// PortClosed is the initial state: the workers are stopped and the backend closed.
	PortClosed State = iota
	// Starting indicates the workers are being started.
	Starting
	// PortReady is the initial child of Running.
	PortReady
	// Connecting indicates a connection attempt is in progress.
	Connecting
	// Ready is the initial child of Connected: requests can be sent.
	Ready
	// Busy indicates the port is connected but cannot take requests now.
	Busy
	// Disconnected indicates the peer was lost.
	Disconnected
	// Stopping indicates the workers are being stopped.
	Stopping
	// Stopped indicates the workers exited; the backend is about to close.
	Stopped
	// PortError indicates a fatal error. The manager stops the workers.
	PortError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case PortClosed:
		return "port-closed"
	case Starting:
		return "starting"
	case PortReady:
		return "port-ready"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Disconnected:
		return "disconnected"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case PortError:
		return "port-error"
	default:
		return "unknown"
	}
}

// IsRunning reports if s is a child of the Running composite state.
func (s State) IsRunning() bool {
	switch s {
	case PortReady, Connecting, Ready, Busy, Disconnected:
		return true
	default:
		return false
	}
}

// IsConnected reports if s is a child of the Connected composite state.
func (s State) IsConnected() bool { return s == Ready || s == Busy }

// IsReady reports if requests can be sent in state s.
func (s State) IsReady() bool { return s == Ready || s == PortReady }

// trigger is an event of the state machine.
type trigger uint8

const (
	trStartThreads trigger = iota
	trAllThreadsReady
	trStopThreads
	trAllThreadsStopped
	trPortClosed
	trUnhandledError
	trConnectionFailed
	trConnecting
	trConnected
	trDisconnected
	trReady
	trBusy
)

func (t trigger) String() string {
	switch t {
	case trStartThreads:
		return "start-threads"
	case trAllThreadsReady:
		return "all-threads-ready"
	case trStopThreads:
		return "stop-threads"
	case trAllThreadsStopped:
		return "all-threads-stopped"
	case trPortClosed:
		return "port-closed"
	case trUnhandledError:
		return "unhandled-error"
	case trConnectionFailed:
		return "connection-failed"
	case trConnecting:
		return "connecting"
	case trConnected:
		return "connected"
	case trDisconnected:
		return "disconnected"
	case trReady:
		return "ready"
	case trBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// transition returns the state entered when t occurs in cur. Entering a
// composite state enters its initial child. ok is false when t is not
// accepted in cur; the event is then ignored.
func transition(cur State, t trigger) (next State, ok bool) {
	switch cur {
	case PortClosed:
		if t == trStartThreads {
			return Starting, true
		}
	case Starting:
		switch t {
		case trAllThreadsReady:
			return PortReady, true
		case trUnhandledError:
			return PortError, true
		}
	case Stopping:
		if t == trAllThreadsStopped {
			return Stopped, true
		}
	case Stopped:
		if t == trPortClosed {
			return PortClosed, true
		}
	case PortError:
		switch t {
		case trAllThreadsStopped:
			return Stopped, true
		case trStopThreads:
			return Stopping, true
		}
	}

	if !cur.IsRunning() {
		return cur, false
	}

	switch t {
	case trStopThreads:
		return Stopping, true
	case trUnhandledError, trConnectionFailed:
		return PortError, true
	case trConnecting:
		return Connecting, true
	case trConnected:
		return Ready, true
	case trDisconnected:
		if cur == Connecting || cur.IsConnected() {
			return Disconnected, true
		}
	case trBusy:
		if cur == Ready {
			return Busy, true
		}
	case trReady:
		if cur == Busy {
			return Ready, true
		}
	}

	return cur, false
}

// LedColor is the color of the status indicator of a state.
type LedColor uint8

const (
	LedGreen LedColor = iota
	LedOrange
	LedRed
)

func (c LedColor) String() string {
	switch c {
	case LedGreen:
		return "green"
	case LedOrange:
		return "orange"
	case LedRed:
		return "red"
	default:
		return "unknown"
	}
}

// StateInfo is published to state handlers on every transition.
type StateInfo struct {
	State State
	// Label is the localized text of the state.
	Label    string
	LedColor LedColor
	LedOn    bool
}

// StateChangeHandler is invoked on every state transition.
//
// Note: the handler is invoked by the event dispatcher goroutine. Long running
// handlers delay the processing of port events.
type StateChangeHandler func(prev State, info StateInfo)

// stateMachine holds the current state, publishes transitions to handlers and
// lets callers wait for a state.
type stateMachine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	labels   *labeler
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newStateMachine(l logger.Logger, lang language.Tag) *stateMachine {
	sm := &stateMachine{
		labels: newLabeler(lang),
		logger: l,
	}
	sm.state.Store(uint32(PortClosed))
	sm.cond = sync.NewCond(&sm.mu)

	return sm
}

// State returns the current state.
func (sm *stateMachine) State() State {
	return State(sm.state.Load())
}

// Info returns the current state with its label and indicator.
func (sm *stateMachine) Info() StateInfo {
	return sm.labels.info(sm.State())
}

// AddHandler adds handlers invoked on state changes.
func (sm *stateMachine) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.handlers = append(sm.handlers, handlers...)
}

// WaitState waits until the state is one of states or ctx is done.
func (sm *stateMachine) WaitState(ctx context.Context, states ...State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if slices.Contains(states, sm.State()) {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stopFunc()

	for !slices.Contains(states, sm.State()) {
		if err := ctx.Err(); err != nil {
			sm.logger.Debug("wait state canceled", "cur_state", sm.State(), "desired_states", states)
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

// fire applies t and returns the entered state. ok is false when t was
// ignored. Handlers run after the state changed.
func (sm *stateMachine) fire(t trigger) (State, bool) {
	sm.mu.Lock()

	prev := sm.State()
	next, ok := transition(prev, t)
	if !ok {
		sm.mu.Unlock()
		sm.logger.Debug("event ignored", "state", prev, "event", t)

		return prev, false
	}

	sm.state.Store(uint32(next))
	sm.cond.Broadcast()
	handlers := slices.Clone(sm.handlers)
	sm.mu.Unlock()

	if next == prev {
		return next, true
	}

	sm.logger.Debug("state changed", "prev_state", prev, "state", next, "event", t)
	info := sm.labels.info(next)
	for _, handler := range handlers {
		if handler != nil {
			handler(prev, info)
		}
	}

	return next, true
}
