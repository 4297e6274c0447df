package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/internal/pool"
	"github.com/scandyna/multidiagtools-sub015/internal/util"
	"github.com/scandyna/multidiagtools-sub015/logger"
	"github.com/scandyna/multidiagtools-sub015/port"
)

// eventQueueSize is the capacity of the dispatcher event queue.
const eventQueueSize = 64

// ReplyHandler receives the replies of transactions not sent in query/reply
// mode, and the frames matching no pending transaction.
//
// Note: the handler is invoked by the event dispatcher goroutine, data is
// only valid during the call.
type ReplyHandler func(id int, data []byte)

// ConnectionAttemptHandler is invoked before each connection attempt.
type ConnectionAttemptHandler func(attempt, maxTry int)

// event is a port event or a state machine trigger queued to the dispatcher.
type event struct {
	port *port.Event
	t    trigger
	// done receives the state reached once the trigger was handled.
	done chan State
}

// Manager owns a port backend and its workers. See the package documentation.
type Manager struct {
	backend port.Backend
	cfg     *port.Config
	opts    *options
	logger  logger.Logger
	proto   protocol
	workers *port.Workers
	sm      *stateMachine
	store   *txStore
	metrics Metrics

	replyHandlers   *xsync.MapOf[uint64, ReplyHandler]
	attemptHandlers *xsync.MapOf[uint64, ConnectionAttemptHandler]
	handlerSeq      atomic.Uint64

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	errMu  sync.Mutex
	curErr error

	timeouts  atomic.Int32
	escalated atomic.Bool
	starved   atomic.Bool
}

// New creates a manager driving backend. A nil cfg selects the defaults of
// port.NewConfig. The backend is opened by Start.
func New(backend port.Backend, cfg *port.Config, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("manager: nil backend")
	}
	if cfg == nil {
		var err error
		if cfg, err = port.NewConfig(); err != nil {
			return nil, err
		}
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	l := cfg.GetLogger().With("component", "manager")
	m := &Manager{
		backend:         backend,
		cfg:             cfg,
		opts:            o,
		logger:          l,
		proto:           newProtocol(cfg.FrameType(), o.idLimit, cfg.ReadFrameSize()),
		sm:              newStateMachine(l, cfg.Language()),
		store:           newTxStore(l),
		replyHandlers:   xsync.NewMapOf[uint64, ReplyHandler](),
		attemptHandlers: xsync.NewMapOf[uint64, ConnectionAttemptHandler](),
		events:          make(chan event, eventQueueSize),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.workers = port.NewWorkers(m.ctx, backend, cfg, m.onPortEvent)

	m.wg.Add(1)
	go m.dispatchTask()

	return m, nil
}

// Backend returns the managed backend.
func (m *Manager) Backend() port.Backend { return m.backend }

// Config returns the port configuration.
func (m *Manager) Config() *port.Config { return m.cfg }

// Metrics returns the counters of the manager.
func (m *Manager) Metrics() *Metrics { return &m.metrics }

// State returns the current state.
func (m *Manager) State() State { return m.sm.State() }

// StateInfo returns the current state with its label and indicator.
func (m *Manager) StateInfo() StateInfo { return m.sm.Info() }

// IsReady reports if the state is Ready or PortReady.
func (m *Manager) IsReady() bool { return m.State().IsReady() }

// IsClosed reports if the state is PortClosed.
func (m *Manager) IsClosed() bool { return m.State() == PortClosed }

// WaitState waits until the state is one of states or ctx is done.
func (m *Manager) WaitState(ctx context.Context, states ...State) error {
	return m.sm.WaitState(ctx, states...)
}

// AddStateHandler adds handlers invoked on every state transition.
func (m *Manager) AddStateHandler(handlers ...StateChangeHandler) {
	m.sm.AddHandler(handlers...)
}

// AddReplyHandler adds a reply handler and returns a function removing it.
func (m *Manager) AddReplyHandler(h ReplyHandler) (remove func()) {
	key := m.handlerSeq.Add(1)
	m.replyHandlers.Store(key, h)

	return func() { m.replyHandlers.Delete(key) }
}

// AddConnectionAttemptHandler adds a connection attempt handler and returns a
// function removing it.
func (m *Manager) AddConnectionAttemptHandler(h ConnectionAttemptHandler) (remove func()) {
	key := m.handlerSeq.Add(1)
	m.attemptHandlers.Store(key, h)

	return func() { m.attemptHandlers.Delete(key) }
}

// CurrentError returns the last transport error reported by the workers, or
// nil. It is cleared by Start.
func (m *Manager) CurrentError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()

	return m.curErr
}

func (m *Manager) setError(err error) {
	m.errMu.Lock()
	m.curErr = err
	m.errMu.Unlock()
}

// Start opens the backend and starts the workers. It returns once the
// workers run; the connection is established in the background.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrPortClosed
	}

	switch st := m.State(); {
	case st.IsRunning():
		return nil
	case st != PortClosed:
		return fmt.Errorf("%w: start in state %s", ErrInvalidTransition, st)
	}

	if err := m.backend.Open(m.cfg); err != nil && !errors.Is(err, port.ErrAlreadyOpen) {
		return err
	}
	m.setError(nil)

	st, err := m.send(ctx, trStartThreads)
	if err != nil {
		return err
	}
	if !st.IsRunning() {
		if err := m.CurrentError(); err != nil {
			return err
		}

		return fmt.Errorf("%w: start ended in state %s", ErrInvalidTransition, st)
	}

	m.logger.Info("port manager started", "port", m.backend.Core().Name(), "frame_type", m.cfg.FrameType())

	return nil
}

// Stop stops the workers and closes the backend. It waits until the state is
// PortClosed or ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	if m.State() == PortClosed {
		return nil
	}
	if _, err := m.send(ctx, trStopThreads); err != nil {
		return err
	}

	return m.sm.WaitState(ctx, PortClosed)
}

// Close stops the manager and releases its goroutines. The manager can not
// be started again.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.stopTimeout)
	defer cancel()

	err := m.Stop(ctx)
	if err != nil {
		m.logger.Warn("stop failed while closing", "error", err)
	}

	m.cancel()
	m.wg.Wait()

	if cerr := m.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return err
}

// NewTransaction returns a transaction from the pool, or a new one.
func (m *Manager) NewTransaction() *Transaction {
	return m.store.get()
}

// RestoreTransaction gives back a transaction that was not sent.
func (m *Manager) RestoreTransaction(tx *Transaction) {
	if tx != nil {
		m.store.put(tx)
	}
}

// PendingCount returns the number of transactions waiting for a reply.
func (m *Manager) PendingCount() int {
	_, pending, _, _ := m.store.counts()
	return pending
}

// DoneCount returns the number of replies not consumed yet.
func (m *Manager) DoneCount() int {
	_, _, done, _ := m.store.counts()
	return done
}

// PoolCount returns the number of free transactions.
func (m *Manager) PoolCount() int {
	pool, _, _, _ := m.store.counts()
	return pool
}

// AllocatedCount returns the number of transactions ever allocated.
func (m *Manager) AllocatedCount() int {
	_, _, _, allocated := m.store.counts()
	return allocated
}

// SendData encodes tx into a write frame and queues it for the writer.
//
// It waits for a free write frame while the write pool is empty; the manager
// is Busy meanwhile. The wait ends with ErrWriteCanceled when ctx is done or
// the port closes. On success the transaction belongs to the manager and the
// id is returned. On error the caller keeps tx.
func (m *Manager) SendData(ctx context.Context, tx *Transaction) (int, error) {
	if tx == nil {
		return 0, errors.New("manager: nil transaction")
	}
	if m.closed.Load() || m.IsClosed() {
		return 0, ErrPortClosed
	}
	if tx.ID != 0 && m.store.inUse(tx.ID) {
		logger.Report(m.logger, logger.SeverityError, "manager", "transaction id reused", "id", tx.ID)
		return 0, fmt.Errorf("%w: %d", ErrDuplicateTransaction, tx.ID)
	}

	f, err := m.takeWriteFrame(ctx)
	if err != nil {
		return 0, err
	}

	b := m.backend
	b.Lock()
	if err := m.proto.encode(tx, f); err != nil {
		b.Core().ReleaseWriteFrame(f)
		b.Unlock()

		return 0, err
	}
	if !tx.NoReply {
		if err := m.store.addPending(tx); err != nil {
			b.Core().ReleaseWriteFrame(f)
			b.Unlock()
			logger.Report(m.logger, logger.SeverityError, "manager", "transaction id still in use", "id", tx.ID)

			return 0, fmt.Errorf("%w: %d", err, tx.ID)
		}
	}
	// once queued, a fast reply may hand tx back to the pool
	id, noReply := tx.ID, tx.NoReply
	b.Core().PushWrite(f)
	b.Unlock()

	if noReply {
		m.store.put(tx)
	}

	return id, nil
}

// takeWriteFrame waits for a free write frame.
func (m *Manager) takeWriteFrame(ctx context.Context) (*frame.Frame, error) {
	b := m.backend
	busy := false
	defer func() {
		if busy && m.starved.CompareAndSwap(true, false) {
			m.post(trReady)
		}
	}()

	for {
		b.Lock()
		f := b.Core().TakeWriteFrame()
		b.Unlock()
		if f != nil {
			return f, nil
		}

		if !busy && m.starved.CompareAndSwap(false, true) {
			busy = true
			m.logger.Debug("no free write frame, waiting")
			m.post(trBusy)
		}

		if m.closed.Load() || m.IsClosed() {
			return nil, fmt.Errorf("%w: port closed", ErrWriteCanceled)
		}
		if !pool.Sleep(ctx, m.opts.waitSlice) {
			return nil, fmt.Errorf("%w: %w", ErrWriteCanceled, ctx.Err())
		}
	}
}

// WaitTransactionDone waits until the reply of id is done. A zero timeout
// selects the read timeout plus the reply grace time.
//
// On failure the transaction is restored to the pool and every pending and
// done transaction is flushed. It returns ErrReplyTimeout on timeout and
// ErrNotReady when the port leaves the ready states.
func (m *Manager) WaitTransactionDone(ctx context.Context, id int, timeout time.Duration) error {
	err := m.waitDone(ctx, timeout, func() bool { return m.store.isDone(id) })
	if err != nil {
		m.store.restore(id)
		if n := m.store.flush(); n > 0 {
			m.logger.Debug("transactions flushed after failed wait", "id", id, "count", n)
		}
	}

	return err
}

// WaitOneTransactionDone waits until any transaction is done. On failure
// every pending and done transaction is flushed.
func (m *Manager) WaitOneTransactionDone(ctx context.Context, timeout time.Duration) error {
	err := m.waitDone(ctx, timeout, func() bool { return m.DoneCount() > 0 })
	if err != nil {
		if n := m.store.flush(); n > 0 {
			m.logger.Debug("transactions flushed after failed wait", "count", n)
		}
	}

	return err
}

func (m *Manager) waitDone(ctx context.Context, timeout time.Duration, pred func() bool) error {
	if timeout <= 0 {
		timeout = m.cfg.ReadTimeout() + m.opts.replyGraceTime
	}

	t := pool.GetTimer(timeout)
	defer pool.PutTimer(t)

	ticker := time.NewTicker(m.opts.waitSlice)
	defer ticker.Stop()

	for {
		changed := m.store.doneChanged()
		if pred() {
			return nil
		}
		if st := m.State(); !st.IsReady() && st != Busy {
			return fmt.Errorf("%w: state %s", ErrNotReady, st)
		}

		select {
		case <-changed:
		case <-ticker.C:
		case <-t.C:
			m.onReplyTimeout()
			return ErrReplyTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) onReplyTimeout() {
	m.metrics.incReplyTimeoutCount()

	n := int(m.timeouts.Add(1))
	m.logger.Debug("reply timeout", "consecutive", n)
	if m.opts.escalation > 0 && n >= m.opts.escalation && m.escalated.CompareAndSwap(false, true) {
		logger.Report(m.logger, logger.SeverityWarning, "manager", "consecutive reply timeouts", "count", n)
		m.post(trBusy)
	}
}

func (m *Manager) onReply() {
	m.timeouts.Store(0)
	if m.escalated.CompareAndSwap(true, false) {
		m.post(trReady)
	}
}

// ReadenFrame removes the reply of id from the done queue and returns it.
// It returns nil when id is not done, including when it was already read.
func (m *Manager) ReadenFrame(id int) []byte {
	data, _ := m.store.takeDone(id)
	return data
}

// ReadenFrames removes and returns every done reply in completion order.
func (m *Manager) ReadenFrames() []Reply {
	return m.store.takeAllDone()
}

// Query sends payload in query/reply mode and returns the reply.
func (m *Manager) Query(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	tx := m.NewTransaction()
	tx.Data = append(tx.Data, payload...)
	tx.QueryReply = true

	return m.query(ctx, tx, timeout)
}

func (m *Manager) query(ctx context.Context, tx *Transaction, timeout time.Duration) ([]byte, error) {
	id, err := m.SendData(ctx, tx)
	if err != nil {
		m.RestoreTransaction(tx)
		return nil, err
	}
	if err := m.WaitTransactionDone(ctx, id, timeout); err != nil {
		return nil, err
	}

	return m.ReadenFrame(id), nil
}

// --- event dispatcher ---

// onPortEvent receives the events of the workers.
func (m *Manager) onPortEvent(ev port.Event) {
	select {
	case m.events <- event{port: &ev}:
	case <-m.ctx.Done():
	}
}

// post queues a trigger without waiting for it to be handled.
func (m *Manager) post(t trigger) {
	select {
	case m.events <- event{t: t}:
	case <-m.ctx.Done():
	}
}

// send queues a trigger and returns the state reached once it was handled.
func (m *Manager) send(ctx context.Context, t trigger) (State, error) {
	ev := event{t: t, done: make(chan State, 1)}

	select {
	case m.events <- ev:
	case <-ctx.Done():
		return m.State(), ctx.Err()
	case <-m.ctx.Done():
		return m.State(), ErrPortClosed
	}

	select {
	case st := <-ev.done:
		return st, nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	case <-m.ctx.Done():
		return m.State(), ErrPortClosed
	}
}

// dispatchTask serializes worker events and state transitions.
func (m *Manager) dispatchTask() {
	defer m.wg.Done()
	defer m.logger.Debug("dispatchTask terminated")

	for {
		select {
		case <-m.ctx.Done():
			return

		case ev := <-m.events:
			if ev.port != nil {
				m.handlePortEvent(*ev.port)
				continue
			}

			m.fire(ev.t)
			if ev.done != nil {
				ev.done <- m.State()
			}
		}
	}
}

func (m *Manager) handlePortEvent(ev port.Event) {
	switch ev.Kind {
	case port.EventFrameReaden:
		m.collectFrames()

	case port.EventFrameWritten:
		m.metrics.incFrameSendCount()

	case port.EventConnectionAttempt:
		m.metrics.setConnRetryGauge(ev.Attempt)
		m.attemptHandlers.Range(func(_ uint64, h ConnectionAttemptHandler) bool {
			h(ev.Attempt, ev.MaxTry)
			return true
		})

	case port.EventConnecting:
		m.fire(trConnecting)

	case port.EventConnected:
		m.metrics.resetConnRetryGauge()
		m.fire(trConnected)

	case port.EventDisconnected:
		if m.State().IsRunning() {
			m.metrics.incDisconnectCount()
			m.setError(ev.Err)
			m.flush()
		}
		m.fire(trDisconnected)

	case port.EventConnectionFailed:
		m.setError(ev.Err)
		m.fire(trConnectionFailed)

	case port.EventUnhandledError:
		m.setError(ev.Err)
		m.fire(trUnhandledError)
	}
}

// flush drops the queued frames and every pending and done transaction.
func (m *Manager) flush() {
	m.backend.Lock()
	m.backend.Core().Flush()
	m.backend.Unlock()

	if n := m.store.flush(); n > 0 {
		m.logger.Debug("transactions flushed", "count", n)
	}
}

// fire applies t and runs the entry actions of the entered states, which may
// fire follow-up triggers.
func (m *Manager) fire(t trigger) {
	for {
		st, ok := m.sm.fire(t)
		if !ok {
			return
		}

		next, follow := m.enter(st)
		if !follow {
			return
		}
		t = next
	}
}

// enter runs the entry action of st. It returns the trigger to fire next, if any.
func (m *Manager) enter(st State) (trigger, bool) {
	switch st {
	case Starting:
		if err := m.workers.Start(func() { m.post(trAllThreadsStopped) }); err != nil {
			logger.Report(m.logger, logger.SeverityError, "manager", "cannot start workers", "error", err)
			m.setError(err)

			return trUnhandledError, true
		}

		return trAllThreadsReady, true

	case Stopping:
		m.logger.Debug("stopping workers", "running", m.workers.Running())
		m.workers.Stop()

	case PortError:
		logger.Report(m.logger, logger.SeverityError, "manager", "port error, stopping", "error", m.CurrentError())
		return trStopThreads, true

	case Stopped:
		m.workers.Wait()
		if err := m.backend.Close(); err != nil {
			m.logger.Warn("close backend failed", "error", err)
		}
		m.store.flush()
		m.starved.Store(false)
		m.escalated.Store(false)
		m.timeouts.Store(0)

		return trPortClosed, true

	case PortClosed:
		m.logger.Info("port closed", "port", m.backend.Core().Name())
	}

	return 0, false
}

// collectFrames decodes the frames of the readen queue and correlates them.
func (m *Manager) collectFrames() {
	var received []inbound

	b := m.backend
	b.Lock()
	core := b.Core()
	for f := core.PopReaden(); f != nil; f = core.PopReaden() {
		if err := f.Err(); err != nil {
			m.metrics.incFrameErrCount()
			logger.Report(m.logger, logger.SeverityError, "manager", "frame discarded", "error", err, "len", f.Len())
			m.setError(err)
			core.ReleaseReadFrame(f)

			continue
		}

		in, err := m.proto.decode(f)
		core.ReleaseReadFrame(f)
		if err != nil {
			m.metrics.incFrameErrCount()
			logger.Report(m.logger, logger.SeverityWarning, "manager", "cannot decode frame", "error", err)

			continue
		}
		received = append(received, in)
	}
	b.Unlock()

	for _, in := range received {
		m.deliver(in)
	}
}

// deliver hands a received frame to its transaction.
func (m *Manager) deliver(in inbound) {
	m.metrics.incFrameRecvCount()
	m.onReply()

	tx := m.store.takePending(in.id)
	if tx == nil {
		m.metrics.incUnsolicitedCount()
		m.logger.Debug("frame with unexpected transaction id", "id", in.id, "data", util.HexBytes(in.payload))
		tx = m.store.get()
		tx.ID = in.id
	}
	tx.Data = append(tx.Data[:0], in.payload...)
	tx.UnitID = in.unitID
	tx.MsgID = in.msgID

	if tx.QueryReply {
		m.store.pushDone(tx)
		return
	}

	m.replyHandlers.Range(func(_ uint64, h ReplyHandler) bool {
		h(tx.ID, tx.Data)
		return true
	})
	m.store.put(tx)
}
