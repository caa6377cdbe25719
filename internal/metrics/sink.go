package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// It satisfies the MetricsSink of every component.
type Sink interface {
	// Event bus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
	HandlerCompleted(message, handler, outcome string, duration time.Duration)

	// Scheduler
	TickCompleted(duration time.Duration, fired int)
	TriggerFired(purpose string, outcome string, duration time.Duration)
	TriggersActive(count int)

	// Lifecycle
	TransitionCompleted(op string, outcome string)

	// Fan-out
	NotificationsCreated(kind string, count int)
	FanoutRetry()

	// Delivery
	DeliveryCompleted(channel, outcome string, duration time.Duration)
	WebPushAttempt(statusClass string, duration time.Duration)
	CircuitStateChanged(state string)

	// Reconciler
	ReconcileCompleted(synced int, duration time.Duration)
	ReconcileFailed()
}
