package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/dispatch"
	"github.com/bakkerme/dealwatch/internal/tracker"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
	last  *core.Run
}

func (f *fakeRunner) RunOnce(ctx context.Context, flow *core.Flow) (*core.Run, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	run := &core.Run{ID: "run-1", FlowID: flow.ID, Status: core.RunStatusCompleted, TriggerType: "manual"}
	if f.err != nil {
		run.Status = core.RunStatusFailed
	}
	f.last = run
	return run, f.err
}

func (f *fakeRunner) LastRun() *core.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeOutput struct {
	name   string
	stats  *tracker.Stats
	report *dispatch.Report
}

func (o fakeOutput) Name() string { return o.name }

func (o fakeOutput) Stats() (tracker.Stats, bool) {
	if o.stats == nil {
		return tracker.Stats{}, false
	}
	return *o.stats, true
}

func (o fakeOutput) LastReport() (dispatch.Report, bool) {
	if o.report == nil {
		return dispatch.Report{}, false
	}
	return *o.report, true
}

type fakeTrigger struct {
	next time.Time
}

func (t fakeTrigger) Name() string                           { return "cron" }
func (t fakeTrigger) Configure(map[string]interface{}) error { return nil }
func (t fakeTrigger) Validate() error                        { return nil }
func (t fakeTrigger) Stop() error                            { return nil }
func (t fakeTrigger) Next() time.Time                        { return t.next }
func (t fakeTrigger) Start(context.Context, string) (<-chan core.TriggerEvent, error) {
	return nil, nil
}

func newTestServer(t *testing.T, runner Runner, outputs ...Output) *Server {
	t.Helper()
	flow := &core.Flow{ID: "flow-1", Name: "fashion", Threshold: 50}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(context.Background(), runner, flow, outputs, logger)
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	body := map[string]interface{}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s %s: %v (body %q)", method, target, err, rec.Body.String())
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	rec, body := do(t, s, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body["status"] != "healthy" || body["service"] != "dealwatch" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusReportsFlowAndNextRun(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	later := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	sooner := later.Add(-time.Hour)
	s.flow.Triggers = []core.TriggerProcessor{fakeTrigger{next: later}, fakeTrigger{next: sooner}}

	rec, body := do(t, s, http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if body["flow_name"] != "fashion" || body["threshold"] != 50.0 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["next_run"] != sooner.Format(time.RFC3339) {
		t.Fatalf("next_run=%v want %s", body["next_run"], sooner.Format(time.RFC3339))
	}
	if body["last_run"] != nil {
		t.Fatalf("expected no last run, got %v", body["last_run"])
	}
}

func TestStatsListsOutputs(t *testing.T) {
	stats := tracker.Stats{Count: 4}
	report := dispatch.Report{Considered: 3, Sent: 2, Skipped: 1}
	s := newTestServer(t, &fakeRunner{},
		fakeOutput{name: "discord", stats: &stats, report: &report},
		fakeOutput{name: "email"},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Outputs []outputStats `json:"outputs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(body.Outputs))
	}
	discord := body.Outputs[0]
	if !discord.Idempotent || discord.Tracker == nil || discord.Tracker.Count != 4 {
		t.Fatalf("unexpected discord stats: %+v", discord)
	}
	if discord.LastReport == nil || discord.LastReport.Sent != 2 || discord.LastReport.Skipped != 1 {
		t.Fatalf("unexpected discord report: %+v", discord.LastReport)
	}
	if email := body.Outputs[1]; email.Idempotent || email.Tracker != nil || email.LastReport != nil {
		t.Fatalf("unexpected email stats: %+v", email)
	}
}

func TestRunWaitReturnsRun(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner)
	rec, body := do(t, s, http.MethodPost, "/api/v1/run?wait=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%v", rec.Code, body)
	}
	run, ok := body["run"].(map[string]interface{})
	if !ok || run["id"] != "run-1" || run["flow_id"] != "flow-1" {
		t.Fatalf("unexpected run: %v", body["run"])
	}
	if s.running.Load() {
		t.Fatalf("running flag should be cleared")
	}
}

func TestRunWaitReportsFailure(t *testing.T) {
	s := newTestServer(t, &fakeRunner{err: errors.New("all sources failed")})
	rec, body := do(t, s, http.MethodPost, "/api/v1/run?wait=true")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rec.Code)
	}
	if body["error"] != "all sources failed" {
		t.Fatalf("error=%v", body["error"])
	}
}

func TestRunRejectsConcurrentRequests(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestServer(t, runner)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/run")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first run status=%d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodPost, "/api/v1/run")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second run status=%d want 409", rec.Code)
	}

	close(runner.block)
	deadline := time.Now().Add(2 * time.Second)
	for s.running.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("background run did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if runner.LastRun() == nil {
		t.Fatalf("expected background run to complete")
	}
}
