// Package channel keeps one server-push subscription per view alive and
// hands every pushed payload to a callback, one at a time.
//
// Transports read a single connection; the Adapter reconnects with a fixed
// delay (1500 ms unless the server sends a retry hint), resumes from the
// last event id and tears down a view's previous connection before opening
// a new one.
package channel
