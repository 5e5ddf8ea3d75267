package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/parser"
	"github.com/roach88/adrecon/internal/profile"
	"github.com/roach88/adrecon/internal/store"
)

// ErrStopped is returned for events submitted after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// Observer receives per-fact processing signals. Implemented by the
// metrics package.
type Observer interface {
	FactObserved(view string, kind ir.FactKind)
	FactApplied(view string, rows int)
	FactUnmatched(view string)
	FactAmbiguous(view string)
	EnvelopeRejected(view string)
}

type nopObserver struct{}

func (nopObserver) FactObserved(string, ir.FactKind) {}
func (nopObserver) FactApplied(string, int)          {}
func (nopObserver) FactUnmatched(string)             {}
func (nopObserver) FactAmbiguous(string)             {}
func (nopObserver) EnvelopeRejected(string)          {}

// ViewConfig binds a named view to a profile.
type ViewConfig struct {
	Name string
	// Topic overrides the profile topic when set.
	Topic string
	// Subject is the per-user key; it binds "owner" on every fact.
	Subject string
	Profile *profile.Profile
}

type view struct {
	name    string
	topic   string
	subject string
	parser  *parser.Parser
	table   *store.Table
	memory  parser.MapMemory
}

// Engine is the single-writer reconciliation loop.
//
// Enqueue and Do are safe from any goroutine. Run must be called from
// exactly one goroutine; Handle must not be called concurrently with Run.
type Engine struct {
	store    *store.Store
	clock    *Clock
	queue    *eventQueue
	views    map[string]*view
	names    []string
	policy   MatchPolicy
	loc      *time.Location
	now      func() time.Time
	newID    func() string
	observer Observer
	validate *validator.Validate
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatchPolicy sets how item-scoped facts treat multiple matches.
func WithMatchPolicy(p MatchPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLocation sets the zone for line timestamps and notice prefixes.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithNow replaces the wall clock used for notices and receipt times.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator replaces the row id generator (UUIDv7 by default).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		e.newID = gen
	}
}

// WithObserver registers a processing observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an engine over the given store and views. Each view's table
// is loaded from storage; unreadable records load as empty.
func New(ctx context.Context, s *store.Store, views []ViewConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    s,
		clock:    NewClock(),
		queue:    newEventQueue(),
		views:    make(map[string]*view, len(views)),
		policy:   MatchAll,
		loc:      time.UTC,
		now:      time.Now,
		newID:    newRowID,
		observer: nopObserver{},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, vc := range views {
		if vc.Name == "" {
			return nil, fmt.Errorf("view name is required")
		}
		if vc.Profile == nil {
			return nil, fmt.Errorf("view %s: profile is required", vc.Name)
		}
		if _, dup := e.views[vc.Name]; dup {
			return nil, fmt.Errorf("duplicate view %q", vc.Name)
		}
		topic := vc.Topic
		if topic == "" {
			topic = vc.Profile.Topic
		}
		v := &view{
			name:    vc.Name,
			topic:   topic,
			subject: vc.Subject,
			parser:  parser.New(vc.Profile, parser.WithLocation(e.loc)),
			table:   s.Table(ctx, vc.Name),
		}
		v.restoreMemory()
		e.views[vc.Name] = v
		e.names = append(e.names, vc.Name)
	}
	return e, nil
}

// restoreMemory rebuilds the line memory from the persisted message log.
func (v *view) restoreMemory() {
	v.memory = parser.MapMemory{}
	v.parser.Restore(ir.RawEvent{Topic: v.topic, Subject: v.subject}, v.table.Messages(), v.memory)
	if len(v.memory) > 0 {
		slog.Debug("line memory restored", "view", v.name, "entries", len(v.memory))
	}
}

func newRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Views returns the configured view names in configuration order.
func (e *Engine) Views() []string {
	return slices.Clone(e.names)
}

// Table returns the table behind a view.
func (e *Engine) Table(name string) (*store.Table, error) {
	v, ok := e.views[name]
	if !ok {
		return nil, unknownViewError(name)
	}
	return v.table, nil
}

// Topic returns the channel topic a view listens on.
func (e *Engine) Topic(name string) (string, error) {
	v, ok := e.views[name]
	if !ok {
		return "", unknownViewError(name)
	}
	return v.topic, nil
}

// Subject returns the per-user key a view is bound to.
func (e *Engine) Subject(name string) (string, error) {
	v, ok := e.views[name]
	if !ok {
		return "", unknownViewError(name)
	}
	return v.subject, nil
}

// Clock returns the engine's sequence clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Enqueue submits an event for the Run loop. Returns false once stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Do enqueues an event and waits for the Run loop to process it.
func (e *Engine) Do(ctx context.Context, ev Event) error {
	done := make(chan error, 1)
	ev.Done = done
	if !e.queue.Enqueue(ev) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled or Stop is called.
//
// Processing errors are logged and reported to the event's Done channel;
// the loop keeps going.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "views", len(e.views), "match_policy", e.policy)
	defer e.rejectPending()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			err := e.Handle(ctx, ev)
			if err != nil {
				logEventError(ev, err)
			}
			if ev.Done != nil {
				ev.Done <- err
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once pending events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) rejectPending() {
	for _, ev := range e.queue.drain() {
		if ev.Done != nil {
			ev.Done <- ErrStopped
		}
	}
}

// Handle processes one event synchronously.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	v, ok := e.views[ev.View]
	if !ok {
		return unknownViewError(ev.View)
	}

	switch ev.Type {
	case EventTypeRaw:
		if ev.Raw == nil {
			return invalidCommandError(v.name, errors.New("raw event missing payload"))
		}
		e.processRaw(ctx, v, *ev.Raw)
		return nil

	case EventTypeIngest:
		e.processLines(ctx, v, ev.Lines)
		return nil

	case EventTypeCommand:
		if ev.Command == nil {
			return invalidCommandError(v.name, errors.New("command event missing command"))
		}
		slog.Debug("applying command", "view", v.name, "command", ev.Command.commandName())
		return ev.Command.apply(ctx, e, v)

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// processRaw parses one pushed payload and applies its facts.
func (e *Engine) processRaw(ctx context.Context, v *view, raw ir.RawEvent) {
	if raw.Topic == "" {
		raw.Topic = v.topic
	}
	if raw.Subject == "" {
		raw.Subject = v.subject
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = e.now()
	}

	res := v.parser.Parse(raw, v.memory)
	if res.Err != nil {
		slog.Warn("malformed event payload",
			"view", v.name,
			"topic", raw.Topic,
			"event_id", raw.ID,
			"error", res.Err,
		)
		e.observer.EnvelopeRejected(v.name)
	}
	if res.LogLine != "" {
		v.table.AppendMessage(ctx, res.LogLine)
	}
	e.applyFacts(ctx, v, res.Facts)
}

// processLines handles lines from an outbound call response. Each line is
// logged and parsed exactly like a pushed line.
func (e *Engine) processLines(ctx context.Context, v *view, lines []string) {
	now := e.now()
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		v.table.AppendMessage(ctx, line)
		raw := ir.RawEvent{
			Topic:      v.topic,
			Subject:    v.subject,
			Payload:    line,
			ReceivedAt: now,
		}
		e.applyFacts(ctx, v, v.parser.ParseLine(raw, line, v.memory))
	}
}

// applyFacts matches and reconciles facts one at a time, in order.
func (e *Engine) applyFacts(ctx context.Context, v *view, facts []ir.Fact) {
	for _, f := range facts {
		f.Seq = e.clock.Next()
		e.observer.FactObserved(v.name, f.Kind)

		if !f.Mutates() {
			slog.Debug("fact recorded without state change",
				"view", v.name,
				"seq", f.Seq,
				"kind", f.Kind,
				"rule", f.Rule,
			)
			continue
		}

		var (
			res     MatchResult
			changed int
		)
		v.table.Update(ctx, func(rows []ir.Row) ([]ir.Row, bool) {
			res = Match(f, rows, e.policy)
			if len(res.IDs) == 0 {
				return nil, false
			}
			var next []ir.Row
			next, changed = reconcile(f, res.IDs, rows)
			return next, changed > 0
		})

		switch {
		case res.Ambiguous:
			slog.Warn("fact matched several rows and was dropped",
				"view", v.name,
				"seq", f.Seq,
				"kind", f.Kind,
				"keys", res.KeySet.String(),
			)
			e.observer.FactAmbiguous(v.name)
		case len(res.IDs) == 0:
			slog.Debug("fact matched no rows",
				"view", v.name,
				"seq", f.Seq,
				"kind", f.Kind,
				"rule", f.Rule,
			)
			e.observer.FactUnmatched(v.name)
		default:
			slog.Debug("fact applied",
				"view", v.name,
				"seq", f.Seq,
				"kind", f.Kind,
				"rule", f.Rule,
				"keys", res.KeySet.String(),
				"matched", len(res.IDs),
				"changed", changed,
			)
			e.observer.FactApplied(v.name, len(res.IDs))
		}

		if f.Notice != "" {
			e.notice(ctx, v, Render(f.Notice, f.Bindings, nil))
		}
	}
}

// notice appends a "[now] text" line to the message log.
func (e *Engine) notice(ctx context.Context, v *view, text string) {
	stamp := e.now().In(e.loc).Format(ir.StampLayout)
	v.table.AppendMessage(ctx, "["+stamp+"] "+text)
}

// logEventError logs a processing failure with enough context to replay it.
func logEventError(ev Event, err error) {
	attrs := []any{
		"error", err,
		"event_type", ev.Type.String(),
		"view", ev.View,
	}
	switch ev.Type {
	case EventTypeRaw:
		if ev.Raw != nil {
			attrs = append(attrs, "event_id", ev.Raw.ID, "topic", ev.Raw.Topic)
		}
	case EventTypeIngest:
		attrs = append(attrs, "lines", len(ev.Lines))
	case EventTypeCommand:
		if ev.Command != nil {
			attrs = append(attrs, "command", ev.Command.commandName())
		}
	}
	slog.Error("event processing failed", attrs...)
}
