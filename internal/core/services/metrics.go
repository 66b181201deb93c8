package services

// EngineMetrics receives engine-level counters and gauges. Implementations
// must be safe for concurrent use. A nil EngineMetrics disables reporting.
type EngineMetrics interface {
	SessionOpened()
	SessionClosed()
	SessionRetry()

	RenegotiationQueued()
	RenegotiationCompleted()
	RenegotiationDropped()

	QualityStepDown()
	QualityStepUp()
	VideoRungChanged(name string)

	SignalSent(msgType string)
	SignalReceived(msgType string)

	SpeakingChanged(speaking bool)
}
