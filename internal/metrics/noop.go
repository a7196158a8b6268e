package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EngineArmed()                                               {}
func (n *NoopSink) EngineDisarmed()                                            {}
func (n *NoopSink) FiringEmitted(lag time.Duration)                            {}
func (n *NoopSink) FiringDropped()                                             {}
func (n *NoopSink) DispatchAttemptCompleted(statusClass string, d time.Duration) {}
func (n *NoopSink) DispatchOutcome(outcome string)                             {}
func (n *NoopSink) FiringsInFlightIncr()                                       {}
func (n *NoopSink) FiringsInFlightDecr()                                       {}
func (n *NoopSink) BufferSizeUpdate(size int)                                  {}
func (n *NoopSink) BufferCapacitySet(capacity int)                             {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                  {}
func (n *NoopSink) EmitError()                                                 {}
func (n *NoopSink) JobsRegistered(count int)                                   {}
func (n *NoopSink) StoreSaveCompleted(duration time.Duration, err error)       {}
func (n *NoopSink) StoreExternalEdit()                                         {}
