package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lotebot/internal/relay"
	logx "lotebot/pkg/logx"
)

type fakeRelay struct{}

func (fakeRelay) Status() relay.Status {
	return relay.Status{StateName: "armed", QueueLen: 3, IntervalStr: "10m0s", HasNext: true, MaxBatch: 100}
}

func (fakeRelay) History(n int) []relay.BatchReport {
	reps := []relay.BatchReport{{BatchID: "b2"}, {BatchID: "b1"}}
	if n > 0 && n < len(reps) {
		reps = reps[:n]
	}
	return reps
}

func get(t *testing.T, h http.Handler, target, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "lotebot_batches_total 1\n")
	})
	h := NewHandler("", true, Sources{Relay: fakeRelay{}, Metrics: metrics}, logx.Nop())

	if rec := get(t, h, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec := get(t, h, "/status", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("status = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st["state"] != "armed" || st["queue_len"] != float64(3) {
		t.Fatalf("status body = %v", st)
	}

	rec = get(t, h, "/history?n=1", "")
	var hist []relay.BatchSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil || len(hist) != 1 || hist[0].ID != "b2" {
		t.Fatalf("history = %s (%v)", rec.Body.String(), err)
	}
	if rec := get(t, h, "/history?n=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad n = %d", rec.Code)
	}

	if rec := get(t, h, "/metrics", ""); !strings.Contains(rec.Body.String(), "lotebot_batches_total") {
		t.Fatalf("metrics = %q", rec.Body.String())
	}
	if rec := get(t, h, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestHandlerOptionalRoutes(t *testing.T) {
	t.Parallel()

	h := NewHandler("", false, Sources{}, logx.Nop())
	for _, path := range []string{"/status", "/metrics", "/debug/pprof/"} {
		if rec := get(t, h, path, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s = %d, want 404", path, rec.Code)
		}
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()

	h := NewHandler("s3cret", false, Sources{Relay: fakeRelay{}}, logx.Nop())
	tests := []struct {
		name   string
		target string
		auth   string
		want   int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"wrong bearer", "/healthz", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/status", "Bearer s3cret", http.StatusOK},
		{"query", "/status?token=s3cret", "", http.StatusOK},
		{"wrong query wins over header", "/status?token=x", "Bearer s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.target, tt.auth)
		if rec.Code != tt.want {
			t.Fatalf("%s: code = %d, want %d", tt.name, rec.Code, tt.want)
		}
		if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("%s: missing WWW-Authenticate", tt.name)
		}
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{Relay: fakeRelay{}}, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	addr := waitAddr(t, s)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false, Addr: "127.0.0.1:0"})
	if s.Addr() != "" {
		t.Fatalf("still serving after disable")
	}
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	s.Start(ctx)
	defer s.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)
	if s.Addr() != "" {
		t.Fatalf("bound %s without a token", s.Addr())
	}
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never bound")
	return ""
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:80":   true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.2:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
