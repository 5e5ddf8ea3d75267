package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHeaders are sent on every stream request so tunnelling proxies pass
// the stream through instead of serving an interstitial page.
var DefaultHeaders = map[string]string{
	"ngrok-skip-browser-warning": "true",
	"skip_zrok_interstitial":     "true",
}

const maxLineSize = 1 << 20

// SSETransport reads text/event-stream responses.
type SSETransport struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewSSETransport returns a transport for the event service at baseURL.
// headers are added to DefaultHeaders; a nil client uses a client without
// timeout, since streams are long-lived.
func NewSSETransport(baseURL string, client *http.Client, headers map[string]string) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	h := make(map[string]string, len(DefaultHeaders)+len(headers))
	for k, v := range DefaultHeaders {
		h[k] = v
	}
	for k, v := range headers {
		h[k] = v
	}
	return &SSETransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		headers: h,
	}
}

// URL returns the stream address for a request:
// {base}/api/v1/messageevents-{topic}?keys={subject}
func (t *SSETransport) URL(req Request) string {
	return fmt.Sprintf("%s/api/v1/messageevents-%s?keys=%s",
		t.baseURL, url.PathEscape(req.Topic), url.QueryEscape(req.Subject))
}

// Stream implements Transport.
func (t *SSETransport) Stream(ctx context.Context, req Request, emit func(Frame)) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(req), nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if req.LastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", req.LastEventID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}

	err = readEvents(resp.Body, emit)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents decodes an event stream. Only unnamed and "message" events are
// dispatched; comments and other event names are skipped. A retry field is
// reported even when no event follows it.
func readEvents(r io.Reader, emit func(Frame)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		data      strings.Builder
		hasData   bool
		eventName string
		lastID    string
	)
	dispatch := func() {
		if hasData && (eventName == "" || eventName == "message") {
			emit(Frame{ID: lastID, Data: data.String()})
		}
		data.Reset()
		hasData = false
		eventName = ""
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventName = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				emit(Frame{ID: lastID, Retry: time.Duration(ms) * time.Millisecond})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
