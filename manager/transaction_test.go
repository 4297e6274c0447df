package manager

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

func checkConservation(t *testing.T, s *txStore, held int) {
	t.Helper()

	pool, pending, done, allocated := s.counts()
	require.Equal(t, allocated, pool+pending+done+held,
		"pool %d, pending %d, done %d, held %d", pool, pending, done, held)
}

func TestTxStore_Lifecycle(t *testing.T) {
	require := require.New(t)

	s := newTxStore(logger.GetLogger())

	tx := s.get()
	tx.ID = 7
	tx.Data = append(tx.Data, "req"...)
	checkConservation(t, s, 1)

	require.NoError(s.addPending(tx))
	require.True(s.inUse(7))
	checkConservation(t, s, 0)

	// an id is in at most one of pending and done
	dup := s.get()
	dup.ID = 7
	require.ErrorIs(s.addPending(dup), ErrDuplicateTransaction)
	s.put(dup)

	got := s.takePending(7)
	require.Same(tx, got)
	require.Nil(s.takePending(7))

	signal := s.doneChanged()
	got.Data = append(got.Data[:0], "reply"...)
	s.pushDone(got)

	select {
	case <-signal:
	default:
		require.Fail("done signal not closed")
	}
	require.True(s.isDone(7))
	require.True(s.inUse(7))
	checkConservation(t, s, 0)

	data, ok := s.takeDone(7)
	require.True(ok)
	require.Equal([]byte("reply"), data)

	// consumed once
	_, ok = s.takeDone(7)
	require.False(ok)
	require.False(s.inUse(7))

	pool, pending, done, allocated := s.counts()
	require.Equal(2, pool)
	require.Zero(pending)
	require.Zero(done)
	require.Equal(2, allocated)

	// pooled transactions are reset
	reused := s.get()
	require.Zero(reused.ID)
	require.Empty(reused.Data)
	require.False(reused.QueryReply)
}

func TestTxStore_TakeAllDone(t *testing.T) {
	require := require.New(t)

	s := newTxStore(logger.GetLogger())
	for _, id := range []int{3, 1, 2} {
		tx := s.get()
		tx.ID = id
		tx.Data = append(tx.Data, byte(id))
		s.pushDone(tx)
	}

	replies := s.takeAllDone()
	require.Equal([]Reply{{ID: 3, Data: []byte{3}}, {ID: 1, Data: []byte{1}}, {ID: 2, Data: []byte{2}}}, replies)
	require.Empty(s.takeAllDone())
	checkConservation(t, s, 0)
}

func TestTxStore_RestoreAndFlush(t *testing.T) {
	require := require.New(t)

	s := newTxStore(logger.GetLogger())
	for id := 1; id <= 4; id++ {
		tx := s.get()
		tx.ID = id
		require.NoError(s.addPending(tx))
	}
	s.pushDone(s.takePending(4))

	s.restore(1)
	s.restore(4)
	s.restore(99)
	require.False(s.inUse(1))
	require.False(s.inUse(4))
	require.True(s.inUse(2))

	pool, _, _, _ := s.counts()
	require.Equal(2, pool)

	// reuses a restored transaction
	tx := s.get()
	tx.ID = 5
	s.pushDone(tx)

	require.Equal(3, s.flush())
	require.Zero(s.flush())

	pool, pending, done, allocated := s.counts()
	require.Equal(4, pool)
	require.Zero(pending)
	require.Zero(done)
	require.Equal(4, allocated)
}

func TestTxStore_LeakWarning(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	l.On("Warn", "transactions held outside the store, possible leak", mock.Anything).Once()

	s := newTxStore(l)

	held := make([]*Transaction, 0, leakThreshold+2)
	for j := 0; j < leakThreshold+2; j++ {
		held = append(held, s.get())
	}
	// reported once while leaking
	l.AssertNumberOfCalls(t, "Warn", 1)

	for _, tx := range held {
		s.put(tx)
	}
	for j := 0; j < leakThreshold; j++ {
		s.get()
	}
	l.AssertNumberOfCalls(t, "Warn", 1)
	checkConservation(t, s, leakThreshold)

	l.AssertExpectations(t)
	require.True(s.leaking)
}
