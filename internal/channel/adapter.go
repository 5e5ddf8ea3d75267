package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/adrecon/internal/ir"
)

// DefaultRetry is the reconnect delay used until the server sends a hint.
const DefaultRetry = 1500 * time.Millisecond

// ErrGaveUp is returned by Subscription.Err after the reconnect limit.
var ErrGaveUp = errors.New("stream reconnect limit reached")

// Observer receives connection signals. Implemented by the metrics package.
type Observer interface {
	StreamReconnecting(topic string, err error)
	StreamDelivered(topic string)
}

type nopObserver struct{}

func (nopObserver) StreamReconnecting(string, error) {}
func (nopObserver) StreamDelivered(string)           {}

// Handler receives pushed payloads, one call at a time per subscription.
type Handler func(ev ir.RawEvent)

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetry sets the initial reconnect delay.
func WithRetry(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.retry = d
		}
	}
}

// WithMaxReconnects caps consecutive failed reconnects; zero means never
// give up. The count resets whenever a connection delivers an event.
func WithMaxReconnects(n int) Option {
	return func(a *Adapter) {
		a.maxReconnects = n
	}
}

// WithObserver registers a connection observer.
func WithObserver(o Observer) Option {
	return func(a *Adapter) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithNow replaces the clock used to stamp received events.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// Adapter owns at most one live subscription per view.
type Adapter struct {
	transport     Transport
	retry         time.Duration
	maxReconnects int
	observer      Observer
	now           func() time.Time

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewAdapter returns an adapter reading through t.
func NewAdapter(t Transport, opts ...Option) *Adapter {
	a := &Adapter{
		transport: t,
		retry:     DefaultRetry,
		observer:  nopObserver{},
		now:       time.Now,
		subs:      make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe opens a stream for view and delivers its payloads to h.
//
// A previous subscription for the same view is closed, and its connection
// fully torn down, before the new one starts.
func (a *Adapter) Subscribe(ctx context.Context, view string, req Request, h Handler) *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.subs[view]; ok {
		prev.Close()
		slog.Info("previous subscription closed", "view", view, "topic", prev.req.Topic)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		view:   view,
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.subs[view] = sub

	go func() {
		defer close(sub.done)
		sub.err = a.run(subCtx, req, h)
	}()

	slog.Info("subscribed", "view", view, "topic", req.Topic)
	return sub
}

// Unsubscribe closes the view's subscription, if any.
func (a *Adapter) Unsubscribe(view string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sub, ok := a.subs[view]; ok {
		sub.Close()
		delete(a.subs, view)
	}
}

// Close closes every subscription.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for view, sub := range a.subs {
		sub.Close()
		delete(a.subs, view)
	}
}

// Views returns the views with a subscription, sorted.
func (a *Adapter) Views() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	views := make([]string, 0, len(a.subs))
	for v := range a.subs {
		views = append(views, v)
	}
	sort.Strings(views)
	return views
}

// run streams until ctx ends or reconnects are exhausted.
func (a *Adapter) run(ctx context.Context, req Request, h Handler) error {
	interval := backoff.NewConstantBackOff(a.retry)
	var policy backoff.BackOff = interval
	if a.maxReconnects > 0 {
		policy = backoff.WithMaxRetries(interval, uint64(a.maxReconnects))
	}
	policy = backoff.WithContext(policy, ctx)

	lastID := req.LastEventID
	for {
		delivered := false
		attempt := req
		attempt.LastEventID = lastID

		err := a.transport.Stream(ctx, attempt, func(f Frame) {
			if f.Retry > 0 {
				interval.Interval = f.Retry
			}
			if f.ID != "" {
				lastID = f.ID
			}
			if f.Data == "" {
				return
			}
			delivered = true
			a.observer.StreamDelivered(req.Topic)
			h(ir.RawEvent{
				Topic:      req.Topic,
				Subject:    req.Subject,
				ID:         f.ID,
				Payload:    f.Data,
				ReceivedAt: a.now(),
			})
		})
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("stream abandoned", "topic", req.Topic, "error", err)
			return fmt.Errorf("%w: %s: %v", ErrGaveUp, req.Topic, err)
		}

		slog.Warn("stream interrupted; reconnecting",
			"topic", req.Topic,
			"error", err,
			"retry_in", wait,
		)
		a.observer.StreamReconnecting(req.Topic, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Subscription is one view's live stream.
type Subscription struct {
	view   string
	req    Request
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// View returns the view the subscription feeds.
func (s *Subscription) View() string {
	return s.view
}

// Done is closed once the stream has stopped for good.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream stopped: nil after Close or cancellation,
// ErrGaveUp after too many failed reconnects. Valid after Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close cancels the stream and waits for its connection to be released.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
