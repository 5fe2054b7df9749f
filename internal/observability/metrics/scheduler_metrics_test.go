package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/coursemart/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "forbidden", err: authorization.ErrForbidden, want: SchedulerJobReasonForbidden},
		{name: "lock", err: fmt.Errorf("dispatch_outbox: %w", ErrLockNotAcquired), want: SchedulerJobReasonLockNotAcquired},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "coursemart", Environment: "test"})

	metrics.AddBatchProcessed("expire_checkouts", "checkouts", 3)
	metrics.AddBatchProcessed("expire_checkouts", "checkouts", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("expire_checkouts", "checkouts"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestNewSchedulerMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newSchedulerMetrics(registry, Config{Environment: "test"})
	second := newSchedulerMetrics(registry, Config{Environment: "test"})

	first.IncJobRun("dispatch_outbox")
	second.IncJobRun("dispatch_outbox")

	if got := testutil.ToFloat64(first.jobRuns.WithLabelValues("dispatch_outbox")); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}
}
