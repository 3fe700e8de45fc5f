package agent

// Event is one typed unit emitted by the Manager and Coder loops. The
// orchestrator fans events out to the WebSocket client and records them
// in the session transcript.
type Event struct {
	Type     string
	Role     string
	Content  string
	Source   string
	Metadata map[string]interface{}
}

// eventBuffer bounds the channel between agent goroutines and their
// consumer so a slow client applies backpressure instead of unbounded
// memory growth.
const eventBuffer = 32

// emit sends ev unless the context channel is closed first. Returns
// false when the consumer is gone and the producer should stop.
func emit(ch chan<- Event, done <-chan struct{}, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-done:
		return false
	}
}

// withMeta returns a shallow copy of ev with extra metadata entries set.
// Existing keys are preserved so coder-level metadata survives manager
// annotation.
func withMeta(ev Event, extra map[string]interface{}) Event {
	md := make(map[string]interface{}, len(ev.Metadata)+len(extra))
	for k, v := range extra {
		md[k] = v
	}
	for k, v := range ev.Metadata {
		md[k] = v
	}
	ev.Metadata = md
	return ev
}
