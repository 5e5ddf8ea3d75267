package channel

import (
	"context"
	"time"
)

// Request identifies one stream.
type Request struct {
	Topic   string
	Subject string
	// LastEventID resumes a stream after a reconnect. Transports without
	// event ids ignore it.
	LastEventID string
}

// Frame is one unit read from a connection.
type Frame struct {
	ID   string
	Data string
	// Retry is a reconnect delay requested by the server; zero if absent.
	Retry time.Duration
}

// Transport reads one connection until it ends.
//
// Stream calls emit for every frame, in order, from the calling goroutine.
// It returns nil when the server closes the stream, ctx.Err() when ctx is
// cancelled, and an error for failed or broken connections.
type Transport interface {
	Stream(ctx context.Context, req Request, emit func(Frame)) error
}
