package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/testutil"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	db := testutil.OpenDB(t)
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func actorWithRole(id int64, role userdomain.Role) userdomain.Actor {
	user := &userdomain.User{Role: role}
	user.ID = snowflake.ID(id)
	return userdomain.Actor{User: user}
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  userdomain.Actor
		object string
		action string
		want   error
	}{
		{"teacher publishes course", actorWithRole(1, userdomain.RoleTeacher), ObjectCourse, ActionCoursePublish, nil},
		{"student cannot publish", actorWithRole(2, userdomain.RoleStudent), ObjectCourse, ActionCoursePublish, ErrForbidden},
		{"support runs reconciliation", actorWithRole(3, userdomain.RoleSupport), ObjectReconciliation, ActionReconciliationRun, nil},
		{"student self heal", actorWithRole(2, userdomain.RoleStudent), ObjectReconciliation, ActionReconciliationSelfHeal, nil},
		{"teacher cannot self heal", actorWithRole(1, userdomain.RoleTeacher), ObjectReconciliation, ActionReconciliationSelfHeal, ErrForbidden},
		{"teacher cannot retry outbox", actorWithRole(1, userdomain.RoleTeacher), ObjectOutbox, ActionOutboxRetry, ErrForbidden},
		{"anonymous", userdomain.Actor{}, ObjectCourse, ActionCourseCreate, ErrUnauthenticated},
		{"empty action", actorWithRole(1, userdomain.RoleTeacher), ObjectCourse, "", ErrInvalidAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, actorWithRole(7, userdomain.RoleSupport), ObjectOutbox, ActionOutboxView); err != nil {
		t.Fatalf("support view: %v", err)
	}
	if err := svc.Authorize(ctx, actorWithRole(7, userdomain.RoleStudent), ObjectOutbox, ActionOutboxView); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden after demotion, got %v", err)
	}
}
