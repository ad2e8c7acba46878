package statusapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rekindle/rekindle/pkg/config"
	"github.com/rekindle/rekindle/pkg/status"
	"github.com/rekindle/rekindle/pkg/stores"
	"github.com/rekindle/rekindle/pkg/supervisor"
	"github.com/rekindle/rekindle/pkg/system"
)

func newTestServer(t *testing.T, register *status.Register) *Server {
	t.Helper()
	srv := NewServer(config.ServerConfig{
		Enabled:         true,
		ListenAddress:   "127.0.0.1:0",
		ShutdownTimeout: config.Duration(2 * time.Second),
	}, register, Options{})

	if _, err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = srv.Stop(context.Background())
	})
	return srv
}

func get(t *testing.T, srv *Server, path string) (*http.Response, func()) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", srv.Addr(), path))
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	return resp, func() { _ = resp.Body.Close() }
}

func TestLivenessEndpoint(t *testing.T) {
	srv := newTestServer(t, status.NewRegister())

	resp, done := get(t, srv, "/healthz")
	defer done()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	register := status.NewRegister()
	srv := newTestServer(t, register)

	register.Set(status.Healthy(system.New().With("a", system.Funcs{})))

	resp, done := get(t, srv, "/status")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status = %d, want 200", resp.StatusCode)
	}
	var report status.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	done()
	if report.State != status.StateHealthy || len(report.Components) != 1 {
		t.Errorf("report = %+v", report)
	}

	register.Set(status.Unhealthy(system.New(), "a", errors.New("a: start failed")))

	resp, done = get(t, srv, "/status")
	defer done()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /status when unhealthy = %d, want 503", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.FailedComponent != "a" || report.Error == "" {
		t.Errorf("unhealthy report = %+v", report)
	}
}

// readSSEData reads lines until one SSE data payload is seen.
func readSSEData(t *testing.T, r *bufio.Reader) status.Report {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "data:") {
			var report status.Report
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(payload), &report); err != nil {
				t.Fatalf("decoding stream payload %q: %v", payload, err)
			}
			return report
		}
	}
}

func TestStreamRelaysChanges(t *testing.T) {
	register := status.NewRegister()
	register.Set(status.Healthy(system.New().With("a", system.Funcs{})))
	srv := newTestServer(t, register)

	resp, done := get(t, srv, "/status/stream")
	defer done()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	// The current outcome arrives before any change.
	first := readSSEData(t, reader)
	if first.State != status.StateHealthy || len(first.Components) != 1 {
		t.Errorf("initial event = %+v", first)
	}

	register.Set(status.Unhealthy(system.New(), "b", errors.New("b: start failed")))

	second := readSSEData(t, reader)
	if second.State != status.StateUnhealthy || second.FailedComponent != "b" {
		t.Errorf("change event = %+v", second)
	}
}

func TestStopClosesOpenStreams(t *testing.T) {
	register := status.NewRegister()
	srv := newTestServer(t, register)

	resp, done := get(t, srv, "/status/stream")
	defer done()
	reader := bufio.NewReader(resp.Body)
	readSSEData(t, reader) // initial event, the stream is established

	stopped := make(chan error, 1)
	go func() {
		_, err := srv.Stop(context.Background())
		stopped <- err
	}()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() hung on an open stream")
	}
}

func TestTransitionsDisabledWithoutHistory(t *testing.T) {
	srv := newTestServer(t, status.NewRegister())

	resp, done := get(t, srv, "/transitions")
	defer done()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /transitions without history = %d, want 404", resp.StatusCode)
	}
}

func TestTransitionsEndpoint(t *testing.T) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if _, err := store.Component().Start(ctx); err != nil {
		t.Fatalf("history start error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rec := supervisor.Record{
		ID:         "t-1",
		Op:         supervisor.OpReset,
		Outcome:    status.Healthy(system.New().With("a", system.Funcs{})),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	if err := store.RecordTransition(ctx, rec); err != nil {
		t.Fatalf("RecordTransition() error = %v", err)
	}

	srv := NewServer(config.ServerConfig{
		Enabled:       true,
		ListenAddress: "127.0.0.1:0",
	}, status.NewRegister(), Options{History: store})
	if _, err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _, _ = srv.Stop(context.Background()) })

	resp, done := get(t, srv, "/transitions")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /transitions = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Transitions []stores.Transition `json:"transitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding transitions: %v", err)
	}
	done()
	if len(body.Transitions) != 1 || body.Transitions[0].ID != "t-1" {
		t.Errorf("transitions = %+v", body.Transitions)
	}

	for _, limit := range []string{"zero", "-1", "0"} {
		resp, done := get(t, srv, "/transitions?limit="+limit)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /transitions?limit=%s = %d, want 400", limit, resp.StatusCode)
		}
		done()
	}
}

func TestStartFailsOnBindConflict(t *testing.T) {
	register := status.NewRegister()
	first := newTestServer(t, register)

	second := NewServer(config.ServerConfig{
		Enabled:       true,
		ListenAddress: first.Addr(),
	}, register, Options{})
	if _, err := second.Start(context.Background()); err == nil {
		_, _ = second.Stop(context.Background())
		t.Error("Start() on an occupied address succeeded")
	}
}
