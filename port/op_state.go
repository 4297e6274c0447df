package port

import "sync/atomic"

// OpState is the open/close state of a backend.
type OpState uint32

const (
	ClosedState OpState = iota
	ClosingState
	OpeningState
	OpenedState
)

func (s OpState) String() string {
	switch s {
	case ClosedState:
		return "Closed"
	case ClosingState:
		return "Closing"
	case OpeningState:
		return "Opening"
	case OpenedState:
		return "Opened"
	default:
		return "Unknown"
	}
}

// AtomicOpState guards Open and Close of a backend against concurrent or
// repeated calls.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string { return st.Get().String() }

// Get returns the current state.
func (st *AtomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

// Set forces the state.
func (st *AtomicOpState) Set(state OpState) {
	st.state.Store(uint32(state))
}

func (st *AtomicOpState) IsClosed() bool { return st.Get() == ClosedState }

func (st *AtomicOpState) IsOpened() bool { return st.Get() == OpenedState }

// ToOpening moves Closed to Opening. It fails if the backend is not closed.
func (st *AtomicOpState) ToOpening() bool {
	return st.state.CompareAndSwap(uint32(ClosedState), uint32(OpeningState))
}

// ToOpened moves Opening to Opened.
func (st *AtomicOpState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpeningState), uint32(OpenedState))
}

// ToClosing moves Opened or Opening to Closing.
func (st *AtomicOpState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(OpenedState), uint32(ClosingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpeningState), uint32(ClosingState))
}

// ToClosed moves Closing to Closed.
func (st *AtomicOpState) ToClosed() bool {
	if st.IsClosed() {
		return true
	}

	return st.state.CompareAndSwap(uint32(ClosingState), uint32(ClosedState))
}
