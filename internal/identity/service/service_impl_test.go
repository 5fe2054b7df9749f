package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/identity/repository"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	return New(Params{
		DB:     testutil.OpenDB(t, &domain.Identity{}),
		Log:    zap.NewNop(),
		GenID:  testutil.Node(t),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Cfg:    config.Config{IdentityVerifySecret: "secret"},
		Locker: lock.NewLocalLocker(),
		Repo:   repository.Provide(),
	})
}

func TestUpsertMergesToHighestState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "Kim@Example.com", State: domain.StateKnownUnverified})
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, "kim@example.com", created.Identity.Email)

	userID := snowflake.ID(42)
	upgraded, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "kim@example.com", UserID: &userID, State: domain.StateVerified})
	require.NoError(t, err)
	assert.True(t, upgraded.Changed)
	assert.Equal(t, domain.StateVerified, upgraded.Identity.State)

	verified, err := svc.IsUserVerified(ctx, userID)
	require.NoError(t, err)
	assert.True(t, verified)

	same, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "kim@example.com", State: domain.StateVerified})
	require.NoError(t, err)
	assert.False(t, same.Changed)
	assert.False(t, same.Ignored)
}

func TestUpsertDowngradeIsIgnoredWithReason(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "lee@example.com", State: domain.StateVerified})
	require.NoError(t, err)

	result, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "lee@example.com", State: domain.StateKnownUnverified})
	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Equal(t, domain.ReasonDowngradeRejected, result.Reason)

	stored, err := svc.GetByEmail(ctx, "lee@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateVerified, stored.State)
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{Email: "nope", State: domain.StateVerified})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{Email: "a@b.io", State: "trusted"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVerificationCode(t *testing.T) {
	svc := newTestService(t)

	code := svc.VerificationCode("Max@Example.com")
	assert.Len(t, code, 8)
	assert.Equal(t, code, svc.VerificationCode("max@example.com"))
	assert.True(t, svc.CheckVerificationCode("max@example.com", code))
	assert.True(t, svc.CheckVerificationCode("max@example.com", " "+code+" "))
	assert.False(t, svc.CheckVerificationCode("other@example.com", code))
}
