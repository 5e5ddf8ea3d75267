// Package parser turns raw channel payloads into typed facts.
//
// A payload is a JSON envelope {"data": {"message": [line, ...]}}. The first
// line is matched against every rule of a profile, in order and
// independently; each matching rule yields one fact. A line no rule matches
// yields a single Unknown fact so the message log still records it.
//
// Parsing never fails outward: malformed envelopes and sub-fields that do
// not decode degrade to Unknown facts and are reported through Result.Err
// or the debug log.
package parser
