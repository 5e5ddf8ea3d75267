package engine

import (
	"github.com/roach88/adrecon/internal/ir"
)

// Row status after verification.
const (
	StatusVerified    = "Verified"
	StatusNotVerified = "Not Verified"
)

// Errors recorded on rows the verification service did not report on.
const (
	missingAccountError    = "Account or credential not found for verification"
	missingCredentialError = "Credential not recognized"
)

// VerificationResult is one account/credential pair as reported by the
// verification service.
type VerificationResult struct {
	AccountID        string `json:"ad_account_id" validate:"required"`
	CredentialRef    string `json:"access_token"`
	AccountStatus    string `json:"ad_account_status"`
	AccountError     string `json:"ad_account_error,omitempty"`
	CredentialStatus string `json:"access_token_status"`
	CredentialError  string `json:"access_token_error,omitempty"`
}

// ApplyVerification sets the account and credential dimensions of every row
// from the result with the same account id and credential. Rows without a
// result become Not Verified. It returns the new rows and the ids of rows
// that had no result. rows is never modified.
func ApplyVerification(results []VerificationResult, rows []ir.Row) ([]ir.Row, []string) {
	type key struct{ account, credential string }
	byKey := make(map[key]VerificationResult, len(results))
	for _, r := range results {
		k := key{r.AccountID, r.CredentialRef}
		if _, dup := byKey[k]; !dup {
			byKey[k] = r
		}
	}

	out := make([]ir.Row, len(rows))
	var missing []string
	for i, row := range rows {
		next := row.Clone()
		res, ok := byKey[key{row.AccountID, row.CredentialRef}]
		if !ok {
			missing = append(missing, row.ID)
			next.Verification.Account = ir.DimensionStatus{State: ir.NotVerified, Error: missingAccountError}
			next.Verification.Credential = ir.DimensionStatus{State: ir.NotVerified, Error: missingCredentialError}
			next.Status = StatusNotVerified
			out[i] = next
			continue
		}

		next.Verification.Account = ir.DimensionStatus{State: verificationState(res.AccountStatus), Error: res.AccountError}
		next.Verification.Credential = ir.DimensionStatus{State: verificationState(res.CredentialStatus), Error: res.CredentialError}
		if next.Verification.Account.State == ir.Verified && next.Verification.Credential.State == ir.Verified {
			next.Status = StatusVerified
		} else {
			next.Status = StatusNotVerified
		}
		out[i] = next
	}
	return out, missing
}

// verificationState maps a reported state; anything unrecognised counts as
// not verified.
func verificationState(s string) ir.VerificationState {
	state, err := ir.ParseVerificationState(s)
	if err != nil || state == ir.Unverified {
		return ir.NotVerified
	}
	return state
}
