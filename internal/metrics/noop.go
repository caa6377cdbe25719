package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) BufferSizeUpdate(size int)                                         {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                    {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                         {}
func (n *NoopSink) EmitError()                                                        {}
func (n *NoopSink) HandlerCompleted(message, handler, outcome string, d time.Duration) {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int)                   {}
func (n *NoopSink) TriggerFired(purpose, outcome string, d time.Duration)             {}
func (n *NoopSink) TriggersActive(count int)                                          {}
func (n *NoopSink) TransitionCompleted(op, outcome string)                            {}
func (n *NoopSink) NotificationsCreated(kind string, count int)                       {}
func (n *NoopSink) FanoutRetry()                                                      {}
func (n *NoopSink) DeliveryCompleted(channel, outcome string, d time.Duration)        {}
func (n *NoopSink) WebPushAttempt(statusClass string, d time.Duration)                {}
func (n *NoopSink) CircuitStateChanged(state string)                                  {}
func (n *NoopSink) ReconcileCompleted(synced int, d time.Duration)                    {}
func (n *NoopSink) ReconcileFailed()                                                  {}
