package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/ir"
)

func TestApplyVerification(t *testing.T) {
	rows := []ir.Row{
		{ID: "r1", AccountID: "111", CredentialRef: "alice", Status: "Ready"},
		{ID: "r2", AccountID: "222", CredentialRef: "bob", Status: "Ready"},
		{ID: "r3", AccountID: "333", CredentialRef: "carol", Status: "Ready"},
	}
	before := ir.CloneRows(rows)
	results := []VerificationResult{
		{AccountID: "111", CredentialRef: "alice", AccountStatus: "Verified", CredentialStatus: "Verified"},
		{AccountID: "222", CredentialRef: "bob", AccountStatus: "Verified", CredentialStatus: "Not Verified", CredentialError: "token expired"},
		{AccountID: "333", CredentialRef: "mallory", AccountStatus: "Verified", CredentialStatus: "Verified"},
	}

	out, missing := ApplyVerification(results, rows)
	require.Len(t, out, 3)

	assert.Equal(t, StatusVerified, out[0].Status)
	assert.Equal(t, ir.Verified, out[0].Verification.Account.State)
	assert.Equal(t, ir.Verified, out[0].Verification.Credential.State)

	assert.Equal(t, StatusNotVerified, out[1].Status)
	assert.Equal(t, ir.DimensionStatus{State: ir.NotVerified, Error: "token expired"}, out[1].Verification.Credential)

	assert.Equal(t, StatusNotVerified, out[2].Status, "account id alone is not enough")
	assert.Equal(t, ir.NotVerified, out[2].Verification.Account.State)
	assert.NotEmpty(t, out[2].Verification.Account.Error)

	assert.Equal(t, []string{"r3"}, missing)
	assert.Equal(t, before, rows)
}

func TestApplyVerification_UnknownStateIsNotVerified(t *testing.T) {
	rows := []ir.Row{{ID: "r1", AccountID: "111"}}
	results := []VerificationResult{{AccountID: "111", AccountStatus: "pending", CredentialStatus: ""}}

	out, missing := ApplyVerification(results, rows)

	assert.Empty(t, missing)
	assert.Equal(t, ir.NotVerified, out[0].Verification.Account.State)
	assert.Equal(t, ir.NotVerified, out[0].Verification.Credential.State)
}
