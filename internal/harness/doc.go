// Package harness runs reconciliation scenarios against a real engine.
//
// A scenario seeds views with rows, feeds them pushed payloads, ingested
// lines and commands, then checks the engine's processing trace and the
// final tables. Runs are deterministic: a frozen wall clock, sequential row
// ids and a fresh store per run.
//
// # Scenario Format
//
//	name: pagename_fetch
//	description: "Fetch start then completion updates one row"
//	views:
//	  - name: pagename
//	setup:
//	  - view: pagename
//	    rows:
//	      - { id: r1, account_id: "123", fields: { on_off: "ON" } }
//	flow:
//	  - view: pagename
//	    push:
//	      - "[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)"
//	  - view: pagename
//	    advance: 5m
//	    outcome: { keys: [{ account_id: "123" }], success: false, message: quota }
//	assertions:
//	  - type: row_state
//	    view: pagename
//	    where: { id: r1 }
//	    expect: { status: "Error ❌ (quota)" }
//
// Flow steps carry exactly one of push, payload, ingest, outcome, verify or
// edit. A step with expect_error must fail with that runtime error code.
//
// # Assertion Types
//
//   - row_state: the one row matching where has the expected fields
//   - row_count: a view holds exactly count rows
//   - message_contains: some message of a view contains a substring
//   - message_count: a view's message log holds exactly count lines
//   - trace_count: a trace event type occurs exactly count times
//   - trace_order: fact kinds occur in the given order
//
// # Golden Files
//
// RunWithGolden stores the canonical JSON of the trace and final row
// statuses under testdata/golden/{name}.golden.
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/pagename_fetch.yaml")
//	result, err := harness.RunWithGolden(t, scenario)
package harness
