package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/outbox/domain"
	"github.com/smallbiznis/coursemart/internal/outbox/repository"
	"github.com/smallbiznis/coursemart/internal/providers/email"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(ctx context.Context, msg email.Message) (email.Result, error) {
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return email.Result{}, err
		}
	}
	return email.Result{ProviderMessageID: "msg-1"}, nil
}

func newTestService(t *testing.T, provider email.Provider) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return New(Params{
		DB:       testutil.OpenDB(t, &domain.Message{}),
		Log:      zap.NewNop(),
		GenID:    testutil.Node(t),
		Clock:    clk,
		Policy:   config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
		Provider: provider,
		Repo:     repository.Provide(),
	}), clk
}

func verificationRequest(key string) domain.EnqueueRequest {
	return domain.EnqueueRequest{
		Template:       domain.TemplateIdentityVerification,
		DedupeKey:      key,
		RecipientEmail: "Ann@Example.com",
		Data:           map[string]any{"code": "abcd1234", "email": "ann@example.com"},
	}
}

func TestEnqueueIsIdempotentByDedupeKey(t *testing.T) {
	svc, _ := newTestService(t, &scriptedProvider{})
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, verificationRequest("verify:ann"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, first.Status)
	assert.Equal(t, "ann@example.com", first.RecipientEmail)
	assert.Contains(t, first.Body, "abcd1234")

	second, err := svc.Enqueue(ctx, verificationRequest("verify:ann"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := svc.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnqueueRejectsUnknownTemplate(t *testing.T) {
	svc, _ := newTestService(t, &scriptedProvider{})
	_, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{Template: "welcome", DedupeKey: "k", RecipientEmail: "a@b.io"})
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)
}

func TestDispatchBacksOffThenFails(t *testing.T) {
	transient := &email.SendError{Code: "smtp_451", Retryable: true}
	provider := &scriptedProvider{errs: []error{transient, transient, transient, transient}}
	svc, clk := newTestService(t, provider)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, verificationRequest("verify:ann"))
	require.NoError(t, err)

	steps := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	for i, step := range steps {
		res, err := svc.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried, "attempt %d", i+1)

		clk.Advance(step - time.Second)
		res, err = svc.Dispatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Retried+res.Sent+res.Failed, "not due before backoff elapses")
		clk.Advance(time.Second)
	}

	res, err := svc.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 4, provider.calls)

	failed, err := svc.List(ctx, domain.ListFilter{Status: domain.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 4, failed[0].AttemptCount)
	assert.Equal(t, "smtp_451", failed[0].LastErrorCode)

	requeued, err := svc.Enqueue(ctx, verificationRequest("verify:ann"))
	require.NoError(t, err)
	assert.Equal(t, failed[0].ID, requeued.ID)
	assert.Equal(t, domain.StatusQueued, requeued.Status)
	assert.Zero(t, requeued.AttemptCount)

	res, err = svc.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestDispatchNonRetryableFailsImmediately(t *testing.T) {
	provider := &scriptedProvider{errs: []error{&email.SendError{Code: "smtp_550", Retryable: false}}}
	svc, _ := newTestService(t, provider)
	ctx := context.Background()

	msg, err := svc.Enqueue(ctx, verificationRequest("verify:bob"))
	require.NoError(t, err)

	res, err := svc.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	_, err = svc.Retry(ctx, msg.ID)
	require.NoError(t, err)
	res, err = svc.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	_, err = svc.Retry(ctx, msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)
}

func TestBackoffSchedule(t *testing.T) {
	schedule := config.DefaultPolicyConfig().Outbox.Backoff
	assert.Equal(t, time.Minute, Backoff(schedule, 1))
	assert.Equal(t, 5*time.Minute, Backoff(schedule, 2))
	assert.Equal(t, 15*time.Minute, Backoff(schedule, 3))
	assert.Equal(t, 15*time.Minute, Backoff(schedule, 7))
}
