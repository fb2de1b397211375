package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testSource struct {
	name   string
	events []*core.DiscountEvent
	err    error
	calls  int
}

func (s *testSource) Name() string                           { return s.name }
func (s *testSource) Configure(map[string]interface{}) error { return nil }
func (s *testSource) Validate() error                        { return nil }
func (s *testSource) Fetch(context.Context) ([]*core.DiscountEvent, error) {
	s.calls++
	return s.events, s.err
}

type dropRetailer struct {
	retailer string
}

func (f *dropRetailer) Name() string                           { return "drop_" + f.retailer }
func (f *dropRetailer) Configure(map[string]interface{}) error { return nil }
func (f *dropRetailer) Validate() error                        { return nil }
func (f *dropRetailer) Filter(_ context.Context, events []*core.DiscountEvent) ([]*core.DiscountEvent, error) {
	var out []*core.DiscountEvent
	for _, e := range events {
		if e.Retailer != f.retailer {
			out = append(out, e)
		}
	}
	return out, nil
}

type testOutput struct {
	failures  int
	calls     int
	events    []*core.DiscountEvent
	summary   *core.RunSummary
	probeErr  error
	probeCall int
}

func (o *testOutput) Name() string                           { return "test" }
func (o *testOutput) Configure(map[string]interface{}) error { return nil }
func (o *testOutput) Validate() error                        { return nil }
func (o *testOutput) Probe(context.Context) error {
	o.probeCall++
	return o.probeErr
}
func (o *testOutput) Deliver(_ context.Context, events []*core.DiscountEvent, summary *core.RunSummary) error {
	o.calls++
	o.events, o.summary = events, summary
	if o.calls <= o.failures {
		return errors.New("webhook unavailable")
	}
	return nil
}

func ev(name, retailer string, discount float64) *core.DiscountEvent {
	return &core.DiscountEvent{URL: "https://shop.example/" + name, Name: name, Retailer: retailer, DiscountPercentage: discount}
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestRunOnceFiltersAndSummarises(t *testing.T) {
	a := &testSource{name: "flannels", events: []*core.DiscountEvent{ev("coat", "Flannels", 80), ev("hat", "Flannels", 20)}}
	b := &testSource{name: "end", events: []*core.DiscountEvent{ev("boots", "END.", 90)}}
	out := &testOutput{}
	flow := &core.Flow{
		ID:        "flow-1",
		Threshold: 70,
		Sources:   []core.SourceProcessor{a, b},
		Filters:   []core.FilterProcessor{&dropRetailer{retailer: "END."}},
		Outputs:   []core.OutputProcessor{out},
	}

	r := New(discardLogger(), Config{})
	run, err := r.RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != core.RunStatusCompleted || run.CompletedAt == nil || run.TriggerType != "manual" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(out.events) != 2 {
		t.Fatalf("expected filtered events to reach output, got %d", len(out.events))
	}
	s := out.summary
	if s.ProductsChecked != 3 || s.HighDiscounts != 2 {
		t.Fatalf("summary should count all fetched events: %+v", s)
	}
	if strings.Join(s.RetailersChecked, ",") != "Flannels,END." {
		t.Fatalf("retailers=%v", s.RetailersChecked)
	}
	if len(s.Sources) != 2 || !s.Sources[0].OK || s.Sources[1].Events != 1 {
		t.Fatalf("source results=%+v", s.Sources)
	}
	if out.events[0].Source != "flannels" {
		t.Fatalf("source name should be stamped on events, got %q", out.events[0].Source)
	}
	if r.LastRun() != run {
		t.Fatalf("LastRun should return the finished run")
	}
}

func TestRunOnceSourceFailures(t *testing.T) {
	good := &testSource{name: "good", events: []*core.DiscountEvent{ev("coat", "Flannels", 80)}}
	bad := &testSource{name: "bad", err: errors.New("403 forbidden")}

	out := &testOutput{}
	flow := &core.Flow{Sources: []core.SourceProcessor{good, bad}, Outputs: []core.OutputProcessor{out}}
	run, err := New(discardLogger(), Config{}).RunOnce(context.Background(), flow)
	if err == nil || run.Status != core.RunStatusFailed {
		t.Fatalf("expected failure without partial mode")
	}
	if out.calls != 0 {
		t.Fatalf("outputs must not run after a source failure")
	}
	if len(run.Errors) != 1 || run.Errors[0].Stage != "source" || run.Summary.Sources[1].Error == "" {
		t.Fatalf("expected recorded source error: %+v", run)
	}

	run, err = New(discardLogger(), Config{AllowPartialSourceErrors: true}).RunOnce(context.Background(), flow)
	if err != nil || out.calls != 1 || len(out.events) != 1 {
		t.Fatalf("partial mode should deliver healthy sources: err=%v calls=%d", err, out.calls)
	}

	allBad := &core.Flow{Sources: []core.SourceProcessor{bad}, Outputs: []core.OutputProcessor{out}}
	if _, err := New(discardLogger(), Config{AllowPartialSourceErrors: true}).RunOnce(context.Background(), allBad); err == nil {
		t.Fatalf("expected failure when every source fails")
	}
}

func TestRunOnceOnlySelectsSources(t *testing.T) {
	a := &testSource{name: "flannels"}
	b := &testSource{name: "end"}
	flow := &core.Flow{Sources: []core.SourceProcessor{a, b}, Outputs: []core.OutputProcessor{&testOutput{}}}

	if _, err := New(discardLogger(), Config{Only: []string{"end"}}).RunOnce(context.Background(), flow); err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.calls != 0 || b.calls != 1 {
		t.Fatalf("calls flannels=%d end=%d", a.calls, b.calls)
	}
	if _, err := New(discardLogger(), Config{Only: []string{"harrods"}}).RunOnce(context.Background(), flow); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestRunOnceRetriesFailedOutput(t *testing.T) {
	src := &testSource{name: "s", events: []*core.DiscountEvent{ev("coat", "Flannels", 80)}}
	out := &testOutput{failures: 2}
	flow := &core.Flow{Sources: []core.SourceProcessor{src}, Outputs: []core.OutputProcessor{out}}

	if _, err := New(discardLogger(), Config{Retry: fastRetry(3)}).RunOnce(context.Background(), flow); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if out.calls != 3 {
		t.Fatalf("calls=%d want 3", out.calls)
	}

	out = &testOutput{failures: 5}
	flow.Outputs = []core.OutputProcessor{out}
	run, err := New(discardLogger(), Config{Retry: fastRetry(2)}).RunOnce(context.Background(), flow)
	if err == nil || run.Status != core.RunStatusFailed || out.calls != 2 {
		t.Fatalf("expected failure after two attempts: err=%v calls=%d", err, out.calls)
	}
}

func TestProbeRetriesAndReports(t *testing.T) {
	out := &testOutput{probeErr: errors.New("unreachable")}
	flow := &core.Flow{Outputs: []core.OutputProcessor{out}}
	if err := New(discardLogger(), Config{Retry: fastRetry(3)}).Probe(context.Background(), flow); err == nil {
		t.Fatalf("expected probe error")
	}
	if out.probeCall != 3 {
		t.Fatalf("probe calls=%d want 3", out.probeCall)
	}
}

func TestProbeUsesMinimumAttempts(t *testing.T) {
	out := &testOutput{probeErr: errors.New("unreachable")}
	flow := &core.Flow{Outputs: []core.OutputProcessor{out}}
	if err := New(discardLogger(), Config{Retry: fastRetry(1)}).Probe(context.Background(), flow); err == nil {
		t.Fatalf("expected probe error")
	}
	if out.probeCall != minProbeAttempts {
		t.Fatalf("probe calls=%d want %d", out.probeCall, minProbeAttempts)
	}
}
