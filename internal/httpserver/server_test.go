package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshcall/signal-relay/internal/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s := New(config.Config{ListenAddr: "127.0.0.1:0"}, slog.Default(), BuildInfo{Commit: "abc123", BuildTime: "2025-01-01"})
	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestReadyzFollowsLifecycle(t *testing.T) {
	s, ts := newTestServer(t)

	resp := getJSON(t, ts.URL+"/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before serve = %d", resp.StatusCode)
	}

	s.ready.Store(true)
	resp = getJSON(t, ts.URL+"/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz while serving = %d", resp.StatusCode)
	}
}

func TestVersionReportsBuildInfo(t *testing.T) {
	_, ts := newTestServer(t)

	var build BuildInfo
	getJSON(t, ts.URL+"/version", &build)
	if build.Commit != "abc123" || build.BuildTime != "2025-01-01" {
		t.Fatalf("version = %#v", build)
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("request id not echoed: %q", got)
	}

	resp = getJSON(t, ts.URL+"/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("request id not generated")
	}
}

func TestRecoverMiddlewareContainsPanics(t *testing.T) {
	s, ts := newTestServer(t)
	s.mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	resp := getJSON(t, ts.URL+"/boom", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("panic route = %d", resp.StatusCode)
	}

	// The server keeps serving other routes.
	resp = getJSON(t, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz after panic = %d", resp.StatusCode)
	}
}
