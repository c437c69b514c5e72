package grblconn

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// StatusQueryCount indicates the number of status queries sent.
	StatusQueryCount atomic.Uint64
	// StatusRecvCount indicates the number of status telegrams parsed successfully.
	StatusRecvCount atomic.Uint64
	// StatusParseErrCount indicates the number of status telegram parse failures.
	StatusParseErrCount atomic.Uint64

	// CommandSendCount indicates the number of command lines sent.
	CommandSendCount atomic.Uint64
	// CommandErrCount indicates the number of failed or rejected commands.
	CommandErrCount atomic.Uint64

	// RecoveryActionCount indicates the number of recovery actions decided.
	RecoveryActionCount atomic.Uint64

	// ConnRetryGauge indicates the number of reconnect attempts since the
	// last successful connect.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incStatusQueryCount() {
	m.StatusQueryCount.Add(1)
}

func (m *ConnectionMetrics) incStatusRecvCount() {
	m.StatusRecvCount.Add(1)
}

func (m *ConnectionMetrics) incStatusParseErrCount() {
	m.StatusParseErrCount.Add(1)
}

func (m *ConnectionMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *ConnectionMetrics) incCommandErrCount() {
	m.CommandErrCount.Add(1)
}

func (m *ConnectionMetrics) incRecoveryActionCount() {
	m.RecoveryActionCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
