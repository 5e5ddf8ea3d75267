package ir

import (
	"fmt"
	"maps"
	"time"
)

// Canonical row field names used by match keys, edits and templates.
// Any other name resolves to an entry of Row.Fields.
const (
	FieldID            = "id"
	FieldAccountID     = "account_id"
	FieldCredentialRef = "credential_ref"
	FieldItemName      = "item_name"
	FieldCode          = "code"
	FieldOwner         = "owner"
	FieldStatus        = "status"
	FieldLastMessage   = "last_message"
)

// Row is one unit of work submitted to the remote platform.
//
// ID is assigned at import time and never reused within a table.
// Fields holds operation-specific values (on_off, campaign_name,
// page_name, new_budget, regions, schedule, ...).
type Row struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id" validate:"required"`
	CredentialRef string            `json:"credential_ref,omitempty"`
	ItemName      string            `json:"item_name,omitempty"`
	Code          string            `json:"code,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Fields        map[string]string `json:"fields"`
	Verification  Verification      `json:"verification"`
	Status        string            `json:"status"`
	LastMessage   string            `json:"last_message,omitempty"`
}

// Field resolves a canonical field name against the row.
// Returns false when the field is not set.
func (r Row) Field(name string) (string, bool) {
	var v string
	switch name {
	case FieldID:
		v = r.ID
	case FieldAccountID:
		v = r.AccountID
	case FieldCredentialRef, "credential":
		v = r.CredentialRef
	case FieldItemName:
		v = r.ItemName
	case FieldCode:
		v = r.Code
	case FieldOwner:
		v = r.Owner
	case FieldStatus:
		v = r.Status
	case FieldLastMessage:
		v = r.LastMessage
	default:
		val, ok := r.Fields[name]
		return val, ok
	}
	return v, v != ""
}

// SetField assigns a canonical field on the row.
// The id field is immutable and returns an error.
func (r *Row) SetField(name, value string) error {
	switch name {
	case FieldID:
		return fmt.Errorf("field %q is immutable", name)
	case FieldAccountID:
		if value == "" {
			return fmt.Errorf("field %q cannot be empty", name)
		}
		r.AccountID = value
	case FieldCredentialRef, "credential":
		r.CredentialRef = value
	case FieldItemName:
		r.ItemName = value
	case FieldCode:
		r.Code = value
	case FieldOwner:
		r.Owner = value
	case FieldStatus:
		r.Status = value
	case FieldLastMessage:
		r.LastMessage = value
	default:
		if r.Fields == nil {
			r.Fields = make(map[string]string)
		}
		r.Fields[name] = value
	}
	return nil
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := r
	if r.Fields != nil {
		out.Fields = maps.Clone(r.Fields)
	}
	return out
}

// CloneRows returns a deep copy of a row collection.
// A nil input yields nil.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// VerificationState is the outcome of verifying one dimension of a row.
type VerificationState string

const (
	Unverified  VerificationState = "Unverified"
	Verified    VerificationState = "Verified"
	NotVerified VerificationState = "NotVerified"
)

// ParseVerificationState validates a state name. The empty string maps to
// Unverified; "Not Verified" is accepted as sent by the verification API.
func ParseVerificationState(s string) (VerificationState, error) {
	switch VerificationState(s) {
	case "", Unverified:
		return Unverified, nil
	case Verified, NotVerified:
		return VerificationState(s), nil
	case "Not Verified":
		return NotVerified, nil
	}
	return "", fmt.Errorf("unknown verification state %q", s)
}

// DimensionStatus is the state of one verifiable dimension.
type DimensionStatus struct {
	State VerificationState `json:"state"`
	Error string            `json:"error,omitempty"`
}

// Dimension names a verifiable aspect of a row.
type Dimension string

const (
	DimensionAccount    Dimension = "account"
	DimensionCredential Dimension = "credential"
	DimensionResource   Dimension = "resource"
)

// Verification holds independent status per verifiable dimension.
type Verification struct {
	Account    DimensionStatus `json:"account"`
	Credential DimensionStatus `json:"credential"`
	Resource   DimensionStatus `json:"resource"`
}

// Get returns a pointer to the named dimension, or nil if unknown.
func (v *Verification) Get(d Dimension) *DimensionStatus {
	switch d {
	case DimensionAccount:
		return &v.Account
	case DimensionCredential:
		return &v.Credential
	case DimensionResource:
		return &v.Resource
	}
	return nil
}

// RawEvent is one payload pushed by the server for a topic and subject.
type RawEvent struct {
	Topic      string    `json:"topic"`
	Subject    string    `json:"subject"`
	ID         string    `json:"id,omitempty"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
