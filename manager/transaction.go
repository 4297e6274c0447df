package manager

import (
	"sync"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

// leakThreshold is the number of transactions held outside the store above
// which a leak warning is logged.
const leakThreshold = 5

// Transaction pairs a request with its reply.
//
// Transactions are obtained with Manager.NewTransaction and given back to the
// manager by SendData. A transaction must not be used by the caller once it
// was sent; the reply is read with ReadenFrame or delivered to the reply
// handlers.
type Transaction struct {
	// ID is the correlation id. It is assigned by SendData when zero.
	ID int
	// Data is the request payload, or the reply payload once done.
	Data []byte
	// QueryReply keeps the reply in the done queue for ReadenFrame instead of
	// delivering it to the reply handlers.
	QueryReply bool
	// NoReply marks a request that gets no reply. The transaction returns to
	// the pool once the request is queued.
	NoReply bool
	// UnitID is the MODBUS unit identifier.
	UnitID byte
	// MsgID is the USBTMC message id; zero means DEV_DEP_MSG_OUT.
	MsgID byte
	// TransferSize is the maximum reply size of a USBTMC REQUEST_DEV_DEP_MSG_IN.
	TransferSize uint32
}

func (tx *Transaction) reset() {
	*tx = Transaction{Data: tx.Data[:0]}
}

// Reply is a done transaction consumed by ReadenFrames.
type Reply struct {
	ID   int
	Data []byte
}

// txStore holds the transaction pool, the pending set and the done queue.
//
// An id is in at most one of pending and done; pooled transactions carry no
// id. pool+pending+done equals allocated when the caller holds none.
type txStore struct {
	mu        sync.Mutex
	pool      []*Transaction
	pending   map[int]*Transaction
	done      []*Transaction
	allocated int
	leaking   bool
	logger    logger.Logger

	// doneSignal is closed and replaced when a transaction is done.
	doneSignal chan struct{}
}

func newTxStore(l logger.Logger) *txStore {
	return &txStore{
		pending:    make(map[int]*Transaction),
		logger:     l,
		doneSignal: make(chan struct{}),
	}
}

// get returns a pooled transaction or allocates a new one.
func (s *txStore) get() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.pool); n > 0 {
		tx := s.pool[n-1]
		s.pool = s.pool[:n-1]

		return tx
	}

	s.allocated++
	held := s.allocated - len(s.pool) - len(s.pending) - len(s.done)
	if held > leakThreshold {
		if !s.leaking {
			s.leaking = true
			logger.Report(s.logger, logger.SeverityWarning, "manager", "transactions held outside the store, possible leak",
				"allocated", s.allocated, "held", held, "pool", len(s.pool), "pending", len(s.pending), "done", len(s.done))
		}
	} else {
		s.leaking = false
	}

	return &Transaction{}
}

// put returns tx to the pool.
func (s *txStore) put(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(tx)
}

func (s *txStore) putLocked(tx *Transaction) {
	tx.reset()
	s.pool = append(s.pool, tx)
}

// inUseLocked reports if id is pending or done.
func (s *txStore) inUseLocked(id int) bool {
	if _, ok := s.pending[id]; ok {
		return true
	}

	return s.doneIndexLocked(id) >= 0
}

func (s *txStore) inUse(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inUseLocked(id)
}

// addPending moves tx to the pending set. It fails if the id is in use.
func (s *txStore) addPending(tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUseLocked(tx.ID) {
		return ErrDuplicateTransaction
	}
	s.pending[tx.ID] = tx

	return nil
}

// takePending removes and returns the pending transaction with id.
func (s *txStore) takePending(id int) *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)

	return tx
}

// pushDone appends tx to the done queue and wakes up the waiters.
func (s *txStore) pushDone(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = append(s.done, tx)
	close(s.doneSignal)
	s.doneSignal = make(chan struct{})
}

// doneChanged returns a channel closed on the next pushDone.
func (s *txStore) doneChanged() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doneSignal
}

func (s *txStore) doneIndexLocked(id int) int {
	for i, tx := range s.done {
		if tx.ID == id {
			return i
		}
	}

	return -1
}

func (s *txStore) isDone(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doneIndexLocked(id) >= 0
}

// takeDone removes the done transaction with id, returns its data and pools
// it. ok is false if id is not done.
func (s *txStore) takeDone(id int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doneIndexLocked(id)
	if i < 0 {
		return nil, false
	}

	tx := s.done[i]
	s.done = append(s.done[:i], s.done[i+1:]...)
	data := append([]byte(nil), tx.Data...)
	s.putLocked(tx)

	return data, true
}

// takeAllDone removes every done transaction in completion order.
func (s *txStore) takeAllDone() []Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	replies := make([]Reply, 0, len(s.done))
	for _, tx := range s.done {
		replies = append(replies, Reply{ID: tx.ID, Data: append([]byte(nil), tx.Data...)})
		s.putLocked(tx)
	}
	s.done = s.done[:0]

	return replies
}

// restore moves the transaction with id back to the pool, wherever it is.
func (s *txStore) restore(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.pending[id]; ok {
		delete(s.pending, id)
		s.putLocked(tx)

		return
	}
	if i := s.doneIndexLocked(id); i >= 0 {
		tx := s.done[i]
		s.done = append(s.done[:i], s.done[i+1:]...)
		s.putLocked(tx)
	}
}

// flush moves every pending and done transaction back to the pool. It
// returns the number of flushed transactions.
func (s *txStore) flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending) + len(s.done)
	for id, tx := range s.pending {
		delete(s.pending, id)
		s.putLocked(tx)
	}
	for _, tx := range s.done {
		s.putLocked(tx)
	}
	s.done = s.done[:0]

	return n
}

func (s *txStore) counts() (pool, pending, done, allocated int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pool), len(s.pending), len(s.done), s.allocated
}
