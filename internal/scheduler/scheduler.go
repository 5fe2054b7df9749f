package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireCheckouts = "expire_checkouts"
	JobAutoSettle      = "auto_settle"
	JobDispatchOutbox  = "dispatch_outbox"
	JobPruneIdempotent = "prune_idempotency"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Locker      lock.Locker
	Flow        checkoutflowdomain.Service
	Outbox      outboxdomain.Service
	Idempotency idempotencydomain.Service
	Config      Config `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	locker      lock.Locker
	flow        checkoutflowdomain.Service
	outbox      outboxdomain.Service
	idempotency idempotencydomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Locker == nil || p.Flow == nil || p.Outbox == nil || p.Idempotency == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		locker:      p.Locker,
		flow:        p.Flow,
		outbox:      p.Outbox,
		idempotency: p.Idempotency,
	}, nil
}

// runJob executes fn under a per-job lease so only one process sweeps at a
// time. A held lease skips the run; a timeout is reported but not returned.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := lock.TryWithLock(ctx, s.locker, "scheduler:"+name, timeout, fn)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		s.logger(ctx).Debug("job skipped, lease held elsewhere", zap.String("job", name))
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	s.logJobError(ctx, name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireCheckouts, s.ExpireCheckoutsJob},
		{JobAutoSettle, s.AutoSettleJob},
		{JobDispatchOutbox, s.DispatchOutboxJob},
		{JobPruneIdempotent, s.PruneIdempotencyJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			schedMetrics.ObserveRunLoopLag(tick.Sub(nextRun))
			nextRun = nextRun.Add(s.cfg.RunInterval)
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ExpireCheckoutsJob(ctx context.Context) error {
	res, err := s.flow.ExpireStale(ctx, s.cfg.BatchSize)
	s.recordSweep(ctx, JobExpireCheckouts, "checkout", res)
	return err
}

func (s *Scheduler) AutoSettleJob(ctx context.Context) error {
	res, err := s.flow.AutoSettle(ctx, s.cfg.BatchSize)
	s.recordSweep(ctx, JobAutoSettle, "checkout", res)
	return err
}

func (s *Scheduler) DispatchOutboxJob(ctx context.Context) error {
	res, err := s.outbox.Dispatch(ctx)
	run := jobRunFromContext(ctx)
	run.AddProcessed(res.Sent + res.Retried + res.Failed)
	run.AddErrors(res.Failed)
	obsmetrics.Scheduler().AddBatchProcessed(JobDispatchOutbox, "outbox_message", res.Sent+res.Retried+res.Failed)
	return err
}

func (s *Scheduler) PruneIdempotencyJob(ctx context.Context) error {
	pruned, err := s.idempotency.Prune(ctx)
	jobRunFromContext(ctx).AddProcessed(int(pruned))
	obsmetrics.Scheduler().AddBatchProcessed(JobPruneIdempotent, "idempotency_record", int(pruned))
	return err
}

func (s *Scheduler) recordSweep(ctx context.Context, job, resource string, res checkoutflowdomain.SweepResult) {
	run := jobRunFromContext(ctx)
	run.AddProcessed(res.Applied)
	run.AddErrors(res.Failed)
	obsmetrics.Scheduler().AddBatchProcessed(job, resource, res.Applied)
}
