package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/metrics"
	"github.com/roach88/adrecon/internal/profile"
	"github.com/roach88/adrecon/internal/store"
	"github.com/roach88/adrecon/internal/testutil"
)

// setupServer runs an engine with the pagename view behind a test server.
func setupServer(t *testing.T) (*httptest.Server, *engine.Engine, *metrics.Recorder) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"), []byte("test-secret"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	set, err := profile.Builtin()
	require.NoError(t, err)
	p, ok := set.Get("pagename")
	require.True(t, ok)

	clock := testutil.NewWallClock(time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC))
	eng, err := engine.New(context.Background(), s,
		[]engine.ViewConfig{{Name: "pagename", Subject: "7-key", Profile: p}},
		engine.WithLocation(time.FixedZone("PHT", 8*60*60)),
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(testutil.SequentialIDs("row")),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	rec := metrics.New()
	srv := httptest.NewServer(New(eng, WithMetrics(rec)).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, eng, rec
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeRows(t *testing.T, data []byte) RowsResponse {
	t.Helper()
	var out RowsResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRows_ReplaceEditAddClear(t *testing.T) {
	srv, _, _ := setupServer(t)
	base := srv.URL + "/views/pagename/rows"

	resp, body := doJSON(t, http.MethodPut, base,
		`[{"account_id":"123","fields":{"on_off":"ON"}},{"account_id":"456"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	rows := decodeRows(t, body)
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "row-1", rows.Rows[0].ID)
	assert.Equal(t, engine.StatusReady, rows.Rows[0].Status)

	resp, body = doJSON(t, http.MethodPatch, base+"/row-2", `{"field":"item_name","value":"Shoes"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Shoes", decodeRows(t, body).Rows[1].ItemName)

	resp, _ = doJSON(t, http.MethodPatch, base+"/nope", `{"field":"item_name","value":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, base+"/row-2", `{"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, base, `{"id":"manual","account_id":"789"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Len(t, decodeRows(t, body).Rows, 3)

	resp, body = doJSON(t, http.MethodPost, base, `{"id":"manual","account_id":"789"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "DUPLICATE_ROW")

	resp, body = doJSON(t, http.MethodPost, base, `{"id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeRows(t, body).Rows)

	resp, body = doJSON(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"rows":[]`)
}

func TestUnknownView(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/views/nope/rows", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "UNKNOWN_VIEW")

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/views/nope/rows", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadBody(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/views/pagename/rows", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "BAD_REQUEST")
}

func TestIngestAndMessages(t *testing.T) {
	srv, _, _ := setupServer(t)
	view := srv.URL + "/views/pagename"

	resp, _ := doJSON(t, http.MethodPut, view+"/rows", `[{"id":"r1","account_id":"123","fields":{"on_off":"ON"}}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, view+"/ingest",
		`{"message":["[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	rows := decodeRows(t, body)
	assert.Equal(t, "Fetching ⏳", rows.Rows[0].Status)

	resp, _ = doJSON(t, http.MethodPost, view+"/ingest", `{"message":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, view+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs MessagesResponse
	require.NoError(t, json.Unmarshal(body, &msgs))
	assert.Equal(t, []string{"[2024-01-01 10:00:00] Fetching Campaign Data for 123 (ON)"}, msgs.Messages)

	resp, _ = doJSON(t, http.MethodDelete, view+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = doJSON(t, http.MethodGet, view+"/messages", "")
	assert.Contains(t, string(body), `"messages":[]`)
}

func TestOutcomesAndVerifications(t *testing.T) {
	srv, _, _ := setupServer(t)
	view := srv.URL + "/views/pagename"

	resp, _ := doJSON(t, http.MethodPut, view+"/rows",
		`[{"id":"r1","account_id":"123","credential_ref":"tok"},{"id":"r2","account_id":"456","credential_ref":"tok"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, view+"/outcomes",
		`{"keys":[{"account_id":"123"}],"success":false,"message":"quota"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Error ❌ (quota)", decodeRows(t, body).Rows[0].Status)

	resp, _ = doJSON(t, http.MethodPost, view+"/outcomes", `{"keys":[],"success":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, view+"/verifications",
		`[{"ad_account_id":"123","access_token":"tok","ad_account_status":"Verified","access_token_status":"Verified"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	rows := decodeRows(t, body).Rows
	assert.Equal(t, ir.Verified, rows[0].Verification.Account.State)
	assert.Equal(t, ir.NotVerified, rows[1].Verification.Account.State)
}

func TestViews(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/views", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []ViewInfo
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "pagename", views[0].Name)
	assert.Equal(t, "pagename", views[0].Topic)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)

	doJSON(t, http.MethodGet, srv.URL+"/views/pagename/rows", "")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `adrecon_http_requests_total{method="GET",route="/views/{view}/rows",status="200"} 1`)
}

func TestEventsStream(t *testing.T) {
	srv, _, _ := setupServer(t)
	view := srv.URL + "/views/pagename"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, view+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() RowsResponse {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var out RowsResponse
				require.NoError(t, json.Unmarshal([]byte(data), &out))
				return out
			}
		}
	}

	initial := readData()
	assert.Empty(t, initial.Rows)

	r, _ := doJSON(t, http.MethodPut, view+"/rows", `[{"id":"r1","account_id":"123"}]`)
	require.Equal(t, http.StatusOK, r.StatusCode)

	next := readData()
	require.Len(t, next.Rows, 1)
	assert.Equal(t, "r1", next.Rows[0].ID)
}
