package tokenbucket

// Recorder receives registry events, typically to export them as metrics.
// Implementations must be safe for concurrent use and should not block.
type Recorder interface {
	// ObserveConsume is called once per Registry.Consume that did not fail.
	ObserveConsume(policy string, tokens uint64, allowed bool)

	// ObserveCleanup is called after every cleanup sweep.
	ObserveCleanup(removed, remaining int)
}

// nopRecorder keeps the hot path free of nil checks.
type nopRecorder struct{}

func (nopRecorder) ObserveConsume(string, uint64, bool) {}
func (nopRecorder) ObserveCleanup(int, int)             {}
