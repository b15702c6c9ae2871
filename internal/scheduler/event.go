package scheduler

import "sync"

// EventKind identifies the scheduler lifecycle events that drive both the
// push channel and structured log lines, per spec §4.I's frame-type list.
type EventKind string

const (
	EventUpdateStarted   EventKind = "update-started"
	EventUpdateScheduled EventKind = "update-scheduled"
	EventUpdateProgress  EventKind = "update-progress"
	EventUpdateCompleted EventKind = "update-completed"
	EventUpdateFailed    EventKind = "update-failed"
)

// Event is the payload delivered to subscribers. RunID identifies the
// update attempt an event belongs to (a fresh ULID per runUpdate call, so
// a client can correlate a started/progress/completed sequence even
// across overlapping log lines). Data carries event-specific detail
// (fetch progress, error messages, scheduled time).
type Event struct {
	Kind  EventKind
	RunID string
	Data  map[string]any
}

// emitter is a typed, in-process pub/sub for scheduler lifecycle events,
// the same shape as the teacher's server.Broadcaster (history-free here —
// the scheduler's events are transient signals, not a replay log; history
// replay for newly connected clients is the push channel's concern,
// served from StatusResponse instead). emit calls every subscriber
// synchronously on the publishing goroutine, with no buffering and no
// dropping, so a slow subscriber delays the publisher.
type emitter struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func newEmitter() *emitter {
	return &emitter{subs: map[int]func(Event){}}
}

// Subscribe registers fn to receive every future event. The returned
// function unsubscribes.
func (e *emitter) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
