// Package ir provides the shared data model for adrecon.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Row.ID is the only identity of a row; business keys are secondary lookups
//   - Fact.Kind is a closed set (see FactKind)
//   - All JSON tags use snake_case
//   - Fact.Seq is a logical clock value; Fact.Timestamp is display-only
package ir
