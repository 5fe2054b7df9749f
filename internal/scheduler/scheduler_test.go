package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"go.uber.org/zap"
)

type stubFlow struct {
	checkoutflowdomain.Service
	expired int
	settled int
	calls   []string
}

func (f *stubFlow) ExpireStale(ctx context.Context, limit int) (checkoutflowdomain.SweepResult, error) {
	f.calls = append(f.calls, JobExpireCheckouts)
	return checkoutflowdomain.SweepResult{Scanned: f.expired, Applied: f.expired}, nil
}

func (f *stubFlow) AutoSettle(ctx context.Context, limit int) (checkoutflowdomain.SweepResult, error) {
	f.calls = append(f.calls, JobAutoSettle)
	return checkoutflowdomain.SweepResult{Scanned: f.settled, Applied: f.settled}, nil
}

type stubOutbox struct {
	outboxdomain.Service
	err error
}

func (o *stubOutbox) Dispatch(ctx context.Context) (outboxdomain.DispatchResult, error) {
	return outboxdomain.DispatchResult{Sent: 2}, o.err
}

type stubIdempotency struct {
	idempotencydomain.Service
	pruned int64
}

func (i *stubIdempotency) Prune(ctx context.Context) (int64, error) {
	return i.pruned, nil
}

func newTestScheduler(t *testing.T, locker lock.Locker, flow *stubFlow, outbox *stubOutbox) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       testutil.Node(t),
		Locker:      locker,
		Flow:        flow,
		Outbox:      outbox,
		Idempotency: &stubIdempotency{pruned: 3},
		Config:      Config{BatchSize: 10, JobTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "coursemart",
		Environment: "test",
	})

	s := newTestScheduler(t, lock.NewLocalLocker(), &stubFlow{}, &stubOutbox{})
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "coursemart",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "coursemart_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "coursemart",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "coursemart_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceRunsEverySweep(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "coursemart", Environment: "test"})

	flow := &stubFlow{expired: 2, settled: 1}
	s := newTestScheduler(t, lock.NewLocalLocker(), flow, &stubOutbox{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(flow.calls) != 2 || flow.calls[0] != JobExpireCheckouts || flow.calls[1] != JobAutoSettle {
		t.Fatalf("expected expire then settle, got %v", flow.calls)
	}

	processed := map[string]string{
		"service":  "coursemart",
		"env":      "test",
		"job":      JobExpireCheckouts,
		"resource": "checkout",
	}
	if got := getCounterValue(t, registry, "coursemart_scheduler_batch_processed_total", processed); got != 2 {
		t.Fatalf("expected 2 expired checkouts, got %v", got)
	}
	pruned := map[string]string{
		"service":  "coursemart",
		"env":      "test",
		"job":      JobPruneIdempotent,
		"resource": "idempotency_record",
	}
	if got := getCounterValue(t, registry, "coursemart_scheduler_batch_processed_total", pruned); got != 3 {
		t.Fatalf("expected 3 pruned records, got %v", got)
	}
}

func TestRunOnceSkipsJobWhenLeaseHeld(t *testing.T) {
	locker := lock.NewLocalLocker()
	if _, ok, err := locker.TryLock(context.Background(), "scheduler:"+JobExpireCheckouts, time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire lease: ok=%v err=%v", ok, err)
	}

	flow := &stubFlow{expired: 1}
	s := newTestScheduler(t, locker, flow, &stubOutbox{})
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(flow.calls) != 1 || flow.calls[0] != JobAutoSettle {
		t.Fatalf("expected only auto settle to run, got %v", flow.calls)
	}
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	boom := errors.New("smtp down")
	s := newTestScheduler(t, lock.NewLocalLocker(), &stubFlow{}, &stubOutbox{err: boom})
	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestEnabledJobsFilter(t *testing.T) {
	flow := &stubFlow{}
	s := newTestScheduler(t, lock.NewLocalLocker(), flow, &stubOutbox{})
	s.cfg.EnabledJobs = []string{"AUTO_SETTLE"}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(flow.calls) != 1 || flow.calls[0] != JobAutoSettle {
		t.Fatalf("expected only auto settle, got %v", flow.calls)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
