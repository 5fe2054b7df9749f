package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCourse         = "course"
	ObjectCheckout       = "checkout"
	ObjectPaymentEvent   = "payment_event"
	ObjectReconciliation = "reconciliation"
	ObjectOutbox         = "outbox"
	ObjectSupportAction  = "support_action"
)

const (
	ActionCourseCreate  = "course.create"
	ActionCoursePublish = "course.publish"

	ActionCheckoutConfirmPaid = "checkout.confirm_paid"

	ActionPaymentEventInject = "payment_event.inject"

	ActionReconciliationScan     = "reconciliation.scan"
	ActionReconciliationRun      = "reconciliation.run"
	ActionReconciliationSelfHeal = "reconciliation.self_heal"

	ActionOutboxView  = "outbox.view"
	ActionOutboxRetry = "outbox.retry"

	ActionSupportActionView = "support_action.view"
)

var (
	ErrUnauthenticated = errors.New("authentication_required")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidObject   = errors.New("invalid_object")
	ErrInvalidAction   = errors.New("invalid_action")
)

type Service interface {
	Authorize(ctx context.Context, actor userdomain.Actor, object string, action string) error
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor userdomain.Actor, object string, action string) error {
	if actor.Anonymous() {
		return ErrUnauthenticated
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	if !actor.Role().Valid() {
		return ErrForbidden
	}

	subject := fmt.Sprintf("user:%s", actor.UserID())
	roleName := fmt.Sprintf("role:%s", actor.Role())
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("role", roleName),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per user so role changes take
// effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:teacher", ObjectCourse, ActionCourseCreate},
		{"role:teacher", ObjectCourse, ActionCoursePublish},
		{"role:teacher", ObjectCheckout, ActionCheckoutConfirmPaid},
		{"role:teacher", ObjectPaymentEvent, ActionPaymentEventInject},
		{"role:teacher", ObjectReconciliation, ActionReconciliationScan},
		{"role:teacher", ObjectReconciliation, ActionReconciliationRun},

		{"role:support", ObjectCheckout, ActionCheckoutConfirmPaid},
		{"role:support", ObjectReconciliation, ActionReconciliationScan},
		{"role:support", ObjectReconciliation, ActionReconciliationRun},
		{"role:support", ObjectOutbox, ActionOutboxView},
		{"role:support", ObjectOutbox, ActionOutboxRetry},
		{"role:support", ObjectSupportAction, ActionSupportActionView},

		{"role:student", ObjectReconciliation, ActionReconciliationSelfHeal},
	}
	for _, policy := range policies {
		params := make([]interface{}, 0, len(policy))
		for _, value := range policy {
			params = append(params, value)
		}
		has, err := enforcer.HasPolicy(params...)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(params...); err != nil {
			return err
		}
	}
	return nil
}
