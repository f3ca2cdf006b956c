package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the consumer
// loop and the reconciliation engine. All methods are nil-safe.
type Metrics struct {
	fillsApplied    uint64
	statusesApplied uint64
	duplicateEvents uint64
	configRejects   uint64
	handlerFailures uint64
	persistRetries  uint64
	persistFailures uint64
	reconRuns       uint64
	reconSkipped    uint64
	residualRows    uint64
	journalAppends  uint64

	handleLatency LatencyStats
	reconLatency  LatencyStats
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	FillsApplied    uint64
	StatusesApplied uint64
	DuplicateEvents uint64
	ConfigRejects   uint64
	HandlerFailures uint64
	PersistRetries  uint64
	PersistFailures uint64
	ReconRuns       uint64
	ReconSkipped    uint64
	ResidualRows    uint64
	JournalAppends  uint64
	HandleLatency   LatencySnapshot
	ReconLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncFillApplied() {
	if m != nil {
		atomic.AddUint64(&m.fillsApplied, 1)
	}
}

func (m *Metrics) IncStatusApplied() {
	if m != nil {
		atomic.AddUint64(&m.statusesApplied, 1)
	}
}

func (m *Metrics) IncDuplicateEvent() {
	if m != nil {
		atomic.AddUint64(&m.duplicateEvents, 1)
	}
}

func (m *Metrics) IncConfigReject() {
	if m != nil {
		atomic.AddUint64(&m.configRejects, 1)
	}
}

func (m *Metrics) IncHandlerFailure() {
	if m != nil {
		atomic.AddUint64(&m.handlerFailures, 1)
	}
}

func (m *Metrics) IncPersistRetry() {
	if m != nil {
		atomic.AddUint64(&m.persistRetries, 1)
	}
}

func (m *Metrics) IncPersistFailure() {
	if m != nil {
		atomic.AddUint64(&m.persistFailures, 1)
	}
}

func (m *Metrics) IncReconRun() {
	if m != nil {
		atomic.AddUint64(&m.reconRuns, 1)
	}
}

func (m *Metrics) IncReconSkipped() {
	if m != nil {
		atomic.AddUint64(&m.reconSkipped, 1)
	}
}

func (m *Metrics) IncResidualRow() {
	if m != nil {
		atomic.AddUint64(&m.residualRows, 1)
	}
}

func (m *Metrics) IncJournalAppend() {
	if m != nil {
		atomic.AddUint64(&m.journalAppends, 1)
	}
}

// ObserveHandle records one consumer handler duration.
func (m *Metrics) ObserveHandle(d time.Duration) {
	if m == nil {
		return
	}
	m.handleLatency.Observe(d)
}

// ObserveRecon records one reconciliation run duration.
func (m *Metrics) ObserveRecon(d time.Duration) {
	if m == nil {
		return
	}
	m.reconLatency.Observe(d)
}

// Capture returns the current counter values.
func (m *Metrics) Capture() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		FillsApplied:    atomic.LoadUint64(&m.fillsApplied),
		StatusesApplied: atomic.LoadUint64(&m.statusesApplied),
		DuplicateEvents: atomic.LoadUint64(&m.duplicateEvents),
		ConfigRejects:   atomic.LoadUint64(&m.configRejects),
		HandlerFailures: atomic.LoadUint64(&m.handlerFailures),
		PersistRetries:  atomic.LoadUint64(&m.persistRetries),
		PersistFailures: atomic.LoadUint64(&m.persistFailures),
		ReconRuns:       atomic.LoadUint64(&m.reconRuns),
		ReconSkipped:    atomic.LoadUint64(&m.reconSkipped),
		ResidualRows:    atomic.LoadUint64(&m.residualRows),
		JournalAppends:  atomic.LoadUint64(&m.journalAppends),
		HandleLatency:   m.handleLatency.Capture(),
		ReconLatency:    m.reconLatency.Capture(),
	}
}
