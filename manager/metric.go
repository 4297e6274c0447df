package manager

import (
	"sync/atomic"
)

// Metrics contains atomic counters of a Manager.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// FrameSendCount indicates the number of frames written by the writer.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames received and decoded.
	FrameRecvCount atomic.Uint64
	// FrameErrCount indicates the number of received frames discarded on error.
	FrameErrCount atomic.Uint64
	// UnsolicitedCount indicates the number of frames matching no pending transaction.
	UnsolicitedCount atomic.Uint64
	// ReplyTimeoutCount indicates the number of waits that timed out.
	ReplyTimeoutCount atomic.Uint64
	// DisconnectCount indicates the number of lost connections.
	DisconnectCount atomic.Uint64

	// ConnRetryGauge indicates the current connection attempt.
	ConnRetryGauge atomic.Uint32
}

func (m *Metrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *Metrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *Metrics) incFrameErrCount() {
	m.FrameErrCount.Add(1)
}

func (m *Metrics) incUnsolicitedCount() {
	m.UnsolicitedCount.Add(1)
}

func (m *Metrics) incReplyTimeoutCount() {
	m.ReplyTimeoutCount.Add(1)
}

func (m *Metrics) incDisconnectCount() {
	m.DisconnectCount.Add(1)
}

func (m *Metrics) setConnRetryGauge(attempt int) {
	m.ConnRetryGauge.Store(uint32(max(attempt, 0)))
}

func (m *Metrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
