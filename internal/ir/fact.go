package ir

import (
	"fmt"
	"strings"
	"time"
)

// FactKind is the closed set of fact variants produced by the parser.
type FactKind string

const (
	KindFetchStarted       FactKind = "FetchStarted"
	KindTaskCreated        FactKind = "TaskCreated"
	KindUploadStarted      FactKind = "UploadStarted"
	KindCreativeSucceeded  FactKind = "CreativeSucceeded"
	KindOperationSucceeded FactKind = "OperationSucceeded"
	KindOperationFailed    FactKind = "OperationFailed"
	KindUnauthorized       FactKind = "Unauthorized"
	KindForbidden          FactKind = "Forbidden"
	KindStrictMismatch     FactKind = "StrictMismatch"
	KindUnknown            FactKind = "Unknown"
)

// FactKinds lists every kind in declaration order.
var FactKinds = []FactKind{
	KindFetchStarted,
	KindTaskCreated,
	KindUploadStarted,
	KindCreativeSucceeded,
	KindOperationSucceeded,
	KindOperationFailed,
	KindUnauthorized,
	KindForbidden,
	KindStrictMismatch,
	KindUnknown,
}

// ParseFactKind validates a kind name.
func ParseFactKind(s string) (FactKind, error) {
	for _, k := range FactKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown fact kind %q", s)
}

// Scope states how broadly a fact is meant to apply.
// Account-scoped facts intentionally hit every row of an account.
type Scope string

const (
	ScopeItem    Scope = "item"
	ScopeAccount Scope = "account"
)

// Binding pairs a row field name with the value a fact requires.
type Binding struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// KeySet is one candidate set of bindings. A row matches when every
// binding equals the row's field exactly.
type KeySet []Binding

// String renders the key set as field=value pairs.
func (k KeySet) String() string {
	parts := make([]string, len(k))
	for i, b := range k {
		parts[i] = b.Field + "=" + b.Value
	}
	return strings.Join(parts, ",")
}

// FieldMismatch is one field-level difference reported by strict mode.
type FieldMismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

// VerificationUpdate sets one verification dimension on matched rows.
// Error is a template rendered against the fact.
type VerificationUpdate struct {
	Dimension Dimension         `json:"dimension"`
	State     VerificationState `json:"state"`
	Error     string            `json:"error,omitempty"`
}

// Fact is a typed extraction from one raw line.
//
// Status and Notice are templates; the reconciler renders Status once per
// matched row and the engine renders Notice once per fact.
type Fact struct {
	Seq        int64               `json:"seq"`
	Kind       FactKind            `json:"kind"`
	Rule       string              `json:"rule,omitempty"`
	Topic      string              `json:"topic"`
	Subject    string              `json:"subject,omitempty"`
	Raw        string              `json:"raw"`
	Stamp      string              `json:"stamp,omitempty"`
	Content    string              `json:"content"`
	Timestamp  time.Time           `json:"timestamp"`
	Scope      Scope               `json:"scope,omitempty"`
	MatchKeys  []KeySet            `json:"match_keys,omitempty"`
	Bindings   map[string]string   `json:"bindings,omitempty"`
	Counts     map[string]int64    `json:"counts,omitempty"`
	Mismatches []FieldMismatch     `json:"mismatches,omitempty"`
	Status     string              `json:"status,omitempty"`
	Notice     string              `json:"notice,omitempty"`
	Verify     *VerificationUpdate `json:"verify,omitempty"`
	Set        map[string]string   `json:"set,omitempty"`
}

// Mutates reports whether the fact may change row state.
func (f Fact) Mutates() bool {
	return f.Kind != KindUnknown && len(f.MatchKeys) > 0
}

// Trace renders the "<stamp> - <content>" form recorded as a row's last
// message. Without a stamp in the line, the fact timestamp is used.
func (f Fact) Trace() string {
	stamp := f.Stamp
	if stamp == "" {
		stamp = f.Timestamp.Format(StampLayout)
	}
	return stamp + " - " + f.Content
}

// StampLayout is the bracketed timestamp layout used by the workers.
const StampLayout = "2006-01-02 15:04:05"
