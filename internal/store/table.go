package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/adrecon/internal/ir"
)

var (
	// ErrRowNotFound is returned when an edit targets an unknown row id.
	ErrRowNotFound = errors.New("row not found")

	// ErrDuplicateRow is returned when a row id already exists in the table.
	ErrDuplicateRow = errors.New("duplicate row id")
)

// Snapshot is an immutable view of a table published to subscribers.
type Snapshot struct {
	Table    string
	Revision int64
	Rows     []ir.Row
	Messages []string
}

// Table holds the authoritative row collection and message log of one view.
//
// All methods are safe for concurrent use. In the running system the engine
// is the only writer; readers use Get, Messages or Subscribe.
type Table struct {
	store *Store
	name  string

	mu       sync.Mutex
	rows     []ir.Row
	messages []string
	seen     mapset.Set[string]
	revision int64
	subs     map[int]chan Snapshot
	nextSub  int
}

func newTable(s *Store, name string) *Table {
	return &Table{
		store: s,
		name:  name,
		seen:  mapset.NewThreadUnsafeSet[string](),
		subs:  make(map[int]chan Snapshot),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

func (t *Table) rowsBlob() string     { return rowsPrefix + t.name }
func (t *Table) messagesBlob() string { return messagesPrefix + t.name }

// load reads both records. Any failure leaves that collection empty.
func (t *Table) load(ctx context.Context) {
	var rows []ir.Row
	if t.loadRecord(ctx, t.rowsBlob(), &rows) {
		t.rows = rows
	}

	var messages []string
	if t.loadRecord(ctx, t.messagesBlob(), &messages) {
		for _, m := range messages {
			if t.seen.Add(m) {
				t.messages = append(t.messages, m)
			}
		}
		t.evictLocked()
	}

	slog.Debug("table loaded",
		"table", t.name,
		"rows", len(t.rows),
		"messages", len(t.messages),
	)
}

// loadRecord decrypts then parses a record into v.
// Returns false when the record is absent or unreadable.
func (t *Table) loadRecord(ctx context.Context, blob string, v any) bool {
	data, err := t.store.readBlob(ctx, blob)
	if err == nil && data == nil {
		return false
	}
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		slog.Warn("discarding unreadable record",
			"table", t.name,
			"blob", blob,
			"error", err,
		)
		t.store.observer.BlobLoadFailed(t.name)
		return false
	}
	return true
}

// Get returns a copy of the current rows.
func (t *Table) Get() []ir.Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ir.CloneRows(t.rows)
}

// Messages returns a copy of the message log in first-seen order.
func (t *Table) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Revision returns a counter bumped on every change.
func (t *Table) Revision() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

// Replace swaps the whole row collection and persists it.
func (t *Table) Replace(ctx context.Context, rows []ir.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows = ir.CloneRows(rows)
	t.commitRowsLocked(ctx)
}

// Update runs fn against the current rows under the table lock. When fn
// reports a change, its result becomes the new collection and is persisted.
//
// fn must not mutate its argument; it returns a new slice instead.
// Returns whether the table changed.
func (t *Table) Update(ctx context.Context, fn func(rows []ir.Row) ([]ir.Row, bool)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, changed := fn(t.rows)
	if !changed {
		return false
	}
	t.rows = next
	t.commitRowsLocked(ctx)
	return true
}

// EditField sets one field of one row.
func (t *Table) EditField(ctx context.Context, id, field, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.IndexFunc(t.rows, func(r ir.Row) bool { return r.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRowNotFound, id)
	}

	next := slices.Clone(t.rows)
	row := next[idx].Clone()
	if err := row.SetField(field, value); err != nil {
		return err
	}
	next[idx] = row
	t.rows = next
	t.commitRowsLocked(ctx)
	return nil
}

// AddRow appends a single row.
func (t *Table) AddRow(ctx context.Context, row ir.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.ContainsFunc(t.rows, func(r ir.Row) bool { return r.ID == row.ID }) {
		return fmt.Errorf("%w: %s", ErrDuplicateRow, row.ID)
	}
	next := make([]ir.Row, 0, len(t.rows)+1)
	next = append(next, t.rows...)
	next = append(next, row.Clone())
	t.rows = next
	t.commitRowsLocked(ctx)
	return nil
}

// Clear empties rows and messages and removes both records.
func (t *Table) Clear(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows = nil
	t.messages = nil
	t.seen.Clear()
	t.revision++

	for _, blob := range []string{t.rowsBlob(), t.messagesBlob()} {
		err := t.store.deleteBlob(ctx, blob)
		t.reportWrite(blob, err)
	}
	t.publishLocked()
}

// AppendMessage adds a line to the log unless an identical line is already
// present. Returns whether the line was added.
func (t *Table) AppendMessage(ctx context.Context, line string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seen.Add(line) {
		return false
	}
	t.messages = append(t.messages, line)
	t.evictLocked()
	t.commitMessagesLocked(ctx)
	return true
}

// ClearMessages empties the message log only.
func (t *Table) ClearMessages(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = nil
	t.seen.Clear()
	t.revision++
	t.reportWrite(t.messagesBlob(), t.store.deleteBlob(ctx, t.messagesBlob()))
	t.publishLocked()
}

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current state. Slow subscribers only see the latest
// snapshot. Call the returned func to unsubscribe.
func (t *Table) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Snapshot, 1)
	t.subs[id] = ch
	ch <- t.snapshotLocked()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// evictLocked drops the oldest lines beyond the cap.
func (t *Table) evictLocked() {
	limit := t.store.maxMessages
	if limit <= 0 || len(t.messages) <= limit {
		return
	}
	drop := len(t.messages) - limit
	for _, m := range t.messages[:drop] {
		t.seen.Remove(m)
	}
	t.messages = slices.Clone(t.messages[drop:])
}

func (t *Table) commitRowsLocked(ctx context.Context) {
	t.revision++
	t.persistLocked(ctx, t.rowsBlob(), t.rows)
	t.publishLocked()
}

func (t *Table) commitMessagesLocked(ctx context.Context) {
	t.revision++
	t.persistLocked(ctx, t.messagesBlob(), t.messages)
	t.publishLocked()
}

// persistLocked serializes v and overwrites the record.
func (t *Table) persistLocked(ctx context.Context, blob string, v any) {
	data, err := json.Marshal(v)
	if err == nil {
		err = t.store.writeBlob(ctx, blob, data)
	}
	t.reportWrite(blob, err)
}

func (t *Table) reportWrite(blob string, err error) {
	if err != nil {
		slog.Warn("persist failed; keeping in-memory state",
			"table", t.name,
			"blob", blob,
			"error", err,
		)
	}
	t.store.observer.BlobWritten(t.name, err)
}

func (t *Table) snapshotLocked() Snapshot {
	return Snapshot{
		Table:    t.name,
		Revision: t.revision,
		Rows:     ir.CloneRows(t.rows),
		Messages: slices.Clone(t.messages),
	}
}

// publishLocked hands the latest snapshot to every subscriber, replacing
// any snapshot the subscriber has not consumed yet.
func (t *Table) publishLocked() {
	if len(t.subs) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
