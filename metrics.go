package identity

import "sync/atomic"

// MetricID defines a public type used by identity APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricRegistrationSuccess is an exported constant or variable used by the identity engine.
	MetricRegistrationSuccess MetricID = iota
	// MetricRegistrationDuplicate is an exported constant or variable used by the identity engine.
	MetricRegistrationDuplicate
	// MetricRegistrationRateLimited is an exported constant or variable used by the identity engine.
	MetricRegistrationRateLimited
	// MetricEmailConfirmed is an exported constant or variable used by the identity engine.
	MetricEmailConfirmed
	// MetricLoginSuccess is an exported constant or variable used by the identity engine.
	MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the identity engine.
	MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the identity engine.
	MetricLoginRateLimited
	// MetricMFARequired is an exported constant or variable used by the identity engine.
	MetricMFARequired
	// MetricMFASuccess is an exported constant or variable used by the identity engine.
	MetricMFASuccess
	// MetricMFAFailure is an exported constant or variable used by the identity engine.
	MetricMFAFailure
	// MetricTOTPSuccess is an exported constant or variable used by the identity engine.
	MetricTOTPSuccess
	// MetricTOTPFailure is an exported constant or variable used by the identity engine.
	MetricTOTPFailure
	// MetricTOTPReplay is an exported constant or variable used by the identity engine.
	MetricTOTPReplay
	// MetricWebAuthnRegistered is an exported constant or variable used by the identity engine.
	MetricWebAuthnRegistered
	// MetricWebAuthnLoginSuccess is an exported constant or variable used by the identity engine.
	MetricWebAuthnLoginSuccess
	// MetricWebAuthnLoginFailure is an exported constant or variable used by the identity engine.
	MetricWebAuthnLoginFailure
	// MetricWebAuthnReplay is an exported constant or variable used by the identity engine.
	MetricWebAuthnReplay
	// MetricRecoveryInitiated is an exported constant or variable used by the identity engine.
	MetricRecoveryInitiated
	// MetricRecoverySuccess is an exported constant or variable used by the identity engine.
	MetricRecoverySuccess
	// MetricRecoveryFailure is an exported constant or variable used by the identity engine.
	MetricRecoveryFailure
	// MetricMagicLinkIssued is an exported constant or variable used by the identity engine.
	MetricMagicLinkIssued
	// MetricMagicLinkRedeemed is an exported constant or variable used by the identity engine.
	MetricMagicLinkRedeemed
	// MetricPasswordResetRequested is an exported constant or variable used by the identity engine.
	MetricPasswordResetRequested
	// MetricPasswordResetCompleted is an exported constant or variable used by the identity engine.
	MetricPasswordResetCompleted
	// MetricSessionValidated is an exported constant or variable used by the identity engine.
	MetricSessionValidated
	// MetricSessionRejected is an exported constant or variable used by the identity engine.
	MetricSessionRejected
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by identity APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by identity APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled describes the enabled operation and its observable behavior.
//
// Enabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
//
// Value does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
