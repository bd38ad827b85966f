package dashboard

import (
	"time"

	"ludexdash/internal/protocol"
)

// MetricsAccumulator keeps the latest metrics snapshot. Each update replaces
// the previous one wholesale.
type MetricsAccumulator struct {
	latest    *protocol.Metrics
	updatedAt time.Time
}

func (m *MetricsAccumulator) OnUpdate(snap protocol.Metrics, at time.Time) {
	s := snap
	m.latest = &s
	m.updatedAt = at
}

func (m *MetricsAccumulator) Latest() (protocol.Metrics, bool) {
	if m.latest == nil {
		return protocol.Metrics{}, false
	}
	return *m.latest, true
}

func (m *MetricsAccumulator) UpdatedAt() time.Time {
	return m.updatedAt
}

// SuccessRate is completed over total executions, in percent.
func SuccessRate(m protocol.Metrics) float64 {
	if m.TotalExecutions <= 0 {
		return 0
	}
	return float64(m.Completed) / float64(m.TotalExecutions) * 100
}
