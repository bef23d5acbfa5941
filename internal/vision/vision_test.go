package vision

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meshcall/signal-relay/internal/metrics"
)

const testImage = "data:image/png;base64,iVBORw0KGgo="

func newUpstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestHandler(t *testing.T, client *Client) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(client, nil, metrics.New()).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postDescribe(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url+"/vision/describe", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestDescribeSuccess(t *testing.T) {
	upstream := newUpstream(t, http.StatusOK,
		`{"choices":[{"message":{"content":"A whiteboard with a diagram."}}]}`)
	client := NewClient(upstream.URL, "test-key", "gpt-4o-mini", time.Second)
	ts := newTestHandler(t, client)

	resp, body := postDescribe(t, ts.URL, `{"image":"`+testImage+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["description"] != "A whiteboard with a diagram." {
		t.Fatalf("description = %q", body["description"])
	}
}

func TestDescribeUpstreamError(t *testing.T) {
	upstream := newUpstream(t, http.StatusTooManyRequests,
		`{"error":{"message":"rate limited"}}`)
	client := NewClient(upstream.URL, "test-key", "gpt-4o-mini", time.Second)
	ts := newTestHandler(t, client)

	resp, body := postDescribe(t, ts.URL, `{"image":"`+testImage+`"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["code"] != "upstream_error" {
		t.Fatalf("code = %q", body["code"])
	}
}

func TestDescribeRejectsNonDataURL(t *testing.T) {
	upstream := newUpstream(t, http.StatusOK, `{}`)
	client := NewClient(upstream.URL, "test-key", "gpt-4o-mini", time.Second)
	ts := newTestHandler(t, client)

	resp, body := postDescribe(t, ts.URL, `{"image":"https://example.com/cat.png"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "bad_request" {
		t.Fatalf("response = %d %v", resp.StatusCode, body)
	}
}

func TestDescribeNotConfigured(t *testing.T) {
	ts := newTestHandler(t, nil)

	resp, body := postDescribe(t, ts.URL, `{"image":"`+testImage+`"}`)
	if resp.StatusCode != http.StatusServiceUnavailable || body["code"] != "not_configured" {
		t.Fatalf("response = %d %v", resp.StatusCode, body)
	}
}

func TestDescribeMalformedBody(t *testing.T) {
	upstream := newUpstream(t, http.StatusOK, `{}`)
	client := NewClient(upstream.URL, "test-key", "gpt-4o-mini", time.Second)
	ts := newTestHandler(t, client)

	resp, body := postDescribe(t, ts.URL, `{"image":`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "bad_request" {
		t.Fatalf("response = %d %v", resp.StatusCode, body)
	}
}
