package engine

import (
	"sync"

	"github.com/roach88/adrecon/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeRaw carries a payload pushed on the channel.
	EventTypeRaw EventType = iota + 1
	// EventTypeIngest carries message lines from an outbound call response.
	EventTypeIngest
	// EventTypeCommand carries a user command.
	EventTypeCommand
)

func (t EventType) String() string {
	switch t {
	case EventTypeRaw:
		return "raw"
	case EventTypeIngest:
		return "ingest"
	case EventTypeCommand:
		return "command"
	}
	return "unknown"
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type EventType
	View string

	Raw     *ir.RawEvent
	Lines   []string
	Command Command

	// Done, when set, receives the processing result. It must have room
	// for one value.
	Done chan<- error
}

// eventQueue is an unbounded FIFO safe for concurrent enqueuing.
//
// The signal channel (buffered, size 1) lets the Run loop wait on both new
// events and context cancellation.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Clear the slot so the backing array does not pin payloads.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// drain removes and returns every pending event.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	q.events = nil
	return events
}
