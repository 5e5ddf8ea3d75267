// Package engine reconciles parsed facts into per-view row tables.
//
// Each configured view pairs a parsing profile with a persisted table.
// Raw channel events, ingested response lines and user commands all enter
// one FIFO queue and are processed by a single Run goroutine, so no two
// reconciliations or edits ever interleave.
//
// For every event the engine:
//  1. parses the payload into facts (at least one per line)
//  2. appends the log line to the view's message log
//  3. stamps each fact with a sequence number from the Clock
//  4. matches the fact against the current rows (Match)
//  5. rewrites the matched rows (Reconcile) inside Table.Update
//  6. appends the rendered notice, if any
//
// Match and Reconcile are pure functions over row slices. Reconcile never
// mutates its input and applying the same fact twice yields the same rows.
//
// Ordering is arrival order. A stale fact delivered late overwrites a newer
// status; there is no versioning beyond the sequence number.
package engine
