package harness

import (
	"github.com/roach88/adrecon/internal/ir"
)

// Trace event types, one per engine observer signal.
const (
	TraceFact      = "fact"
	TraceApplied   = "applied"
	TraceUnmatched = "unmatched"
	TraceAmbiguous = "ambiguous"
	TraceRejected  = "rejected"
)

// TraceEvent is one engine processing signal observed during a run.
type TraceEvent struct {
	Type string `json:"type"`
	View string `json:"view"`
	Kind string `json:"kind,omitempty"` // set on fact events
	Rows int    `json:"rows,omitempty"` // set on applied events
	Seq  int64  `json:"seq"`
}

// ViewState is the final content of one view's table.
type ViewState struct {
	Rows     []ir.Row `json:"rows"`
	Messages []string `json:"messages"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace lists observer signals in the order the engine emitted them.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final tables keyed by view name.
	State map[string]ViewState `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ViewState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// tracer implements engine.Observer by appending to a result's trace.
type tracer struct {
	result *Result
	seq    int64
}

func (t *tracer) add(ev TraceEvent) {
	t.seq++
	ev.Seq = t.seq
	t.result.Trace = append(t.result.Trace, ev)
}

func (t *tracer) FactObserved(view string, kind ir.FactKind) {
	t.add(TraceEvent{Type: TraceFact, View: view, Kind: string(kind)})
}

func (t *tracer) FactApplied(view string, rows int) {
	t.add(TraceEvent{Type: TraceApplied, View: view, Rows: rows})
}

func (t *tracer) FactUnmatched(view string) {
	t.add(TraceEvent{Type: TraceUnmatched, View: view})
}

func (t *tracer) FactAmbiguous(view string) {
	t.add(TraceEvent{Type: TraceAmbiguous, View: view})
}

func (t *tracer) EnvelopeRejected(view string) {
	t.add(TraceEvent{Type: TraceRejected, View: view})
}
