// Package profile loads reconciliation profiles: declarative rule tables
// that tell the parser how to turn one view's status lines into facts.
//
// Profiles are written in CUE and validated against an embedded schema.
// A set of builtin profiles ships with the binary; files in a profiles
// directory add new profiles or replace builtin ones by name.
//
// Example:
//
//	profile: "my-view": {
//		topic: "adsets"
//		rules: [{
//			name:    "done"
//			kind:    "OperationSucceeded"
//			pattern: #"Processing (?P<account_id>\S+) Completed"#
//			keys: [["account_id"]]
//			status: "Success ✅"
//		}]
//	}
//
// Rules are tried in declaration order and independently of each other.
package profile
