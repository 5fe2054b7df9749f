// Package harness wires the full purchase engine against an in-memory
// database for cross-package tests.
package harness

import (
	"context"
	"sync"
	"testing"
	"time"

	accessdomain "github.com/smallbiznis/coursemart/internal/access/domain"
	accesssvc "github.com/smallbiznis/coursemart/internal/access/service"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	auditrepo "github.com/smallbiznis/coursemart/internal/audit/repository"
	auditsvc "github.com/smallbiznis/coursemart/internal/audit/service"
	"github.com/smallbiznis/coursemart/internal/authorization"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/coursemart/internal/catalog/repository"
	catalogsvc "github.com/smallbiznis/coursemart/internal/catalog/service"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	checkoutrepo "github.com/smallbiznis/coursemart/internal/checkout/repository"
	checkoutsvc "github.com/smallbiznis/coursemart/internal/checkout/service"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	checkoutflowsvc "github.com/smallbiznis/coursemart/internal/checkoutflow/service"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/coursemart/internal/entitlement/repository"
	entitlementsvc "github.com/smallbiznis/coursemart/internal/entitlement/service"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	idempotencyrepo "github.com/smallbiznis/coursemart/internal/idempotency/repository"
	idempotencysvc "github.com/smallbiznis/coursemart/internal/idempotency/service"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	identityrepo "github.com/smallbiznis/coursemart/internal/identity/repository"
	identitysvc "github.com/smallbiznis/coursemart/internal/identity/service"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/migration"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/coursemart/internal/outbox/repository"
	outboxsvc "github.com/smallbiznis/coursemart/internal/outbox/service"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/card"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/coursemart/internal/payment/repository"
	paymentsvc "github.com/smallbiznis/coursemart/internal/payment/service"
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"github.com/smallbiznis/coursemart/internal/providers/email"
	paymentgateway "github.com/smallbiznis/coursemart/internal/providers/payment"
	"github.com/smallbiznis/coursemart/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/coursemart/internal/purchase/repository"
	purchasesvc "github.com/smallbiznis/coursemart/internal/purchase/service"
	reconciliationdomain "github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	reconciliationsvc "github.com/smallbiznis/coursemart/internal/reconciliation/service"
	"github.com/smallbiznis/coursemart/internal/testutil"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	userrepo "github.com/smallbiznis/coursemart/internal/user/repository"
	usersvc "github.com/smallbiznis/coursemart/internal/user/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CardWebhookSecret    = "whsec_test"
	IdentityVerifySecret = "verify_test"
)

// Start is the fake clock origin used by every harness.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// RecordingEmail captures sent messages instead of delivering them.
type RecordingEmail struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *RecordingEmail) Name() string { return "recording" }

func (r *RecordingEmail) Send(ctx context.Context, msg email.Message) (email.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return email.Result{ProviderMessageID: "rec-" + msg.Template}, nil
}

func (r *RecordingEmail) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.sent...)
}

type Harness struct {
	DB     *gorm.DB
	Clock  *clock.FakeClock
	Log    *zap.Logger
	Cfg    config.Config
	Policy *config.PolicyConfigHolder
	Locker lock.Locker
	Email  *RecordingEmail
	Oracle paymentgateway.SettlementOracle

	Users          userdomain.Service
	Catalog        catalogdomain.Service
	Identity       identitydomain.Service
	Outbox         outboxdomain.Service
	Purchases      purchasedomain.Service
	Entitlements   entitlementdomain.Service
	Checkouts      checkoutdomain.Service
	Payments       paymentdomain.Service
	Webhooks       paymentdomain.WebhookService
	Flow           checkoutflowdomain.Service
	Access         accessdomain.Service
	Audit          auditdomain.Service
	Reconciliation reconciliationdomain.Service
	Idempotency    idempotencydomain.Service
	Authz          authorization.Service
	Receipts       pdf.Provider
}

type Option func(*options)

type options struct {
	oracle paymentgateway.SettlementOracle
}

// WithOracle replaces the hash-based settlement oracle.
func WithOracle(o paymentgateway.SettlementOracle) Option {
	return func(opts *options) { opts.oracle = o }
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db := testutil.OpenDB(t, migration.Models()...)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(Start)
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())
	locker := lock.NewLocalLocker()
	recorder := &RecordingEmail{}
	cfg := config.Config{
		AppName:              "coursemart",
		CardWebhookSecret:    CardWebhookSecret,
		IdentityVerifySecret: IdentityVerifySecret,
	}
	oracle := o.oracle
	if oracle == nil {
		oracle = paymentgateway.NewHashOracle(policy)
	}

	h := &Harness{
		DB: db, Clock: clk, Log: log, Cfg: cfg, Policy: policy,
		Locker: locker, Email: recorder, Oracle: oracle,
	}

	h.Users = usersvc.New(usersvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: userrepo.Provide()})
	h.Catalog = catalogsvc.New(catalogsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: catalogrepo.Provide()})
	h.Identity = identitysvc.New(identitysvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Locker: locker, Repo: identityrepo.Provide(),
	})
	h.Outbox = outboxsvc.New(outboxsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Policy: policy,
		Provider: recorder, Repo: outboxrepo.Provide(),
	})
	h.Purchases = purchasesvc.New(purchasesvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: policy, Locker: locker,
		Repo: purchaserepo.Provide(), Catalog: h.Catalog, Users: h.Users, Outbox: h.Outbox,
	})
	h.Entitlements = entitlementsvc.New(entitlementsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Locker: locker, Repo: entitlementrepo.Provide(),
		Identity: h.Identity, Purchases: h.Purchases, Users: h.Users, Outbox: h.Outbox, Catalog: h.Catalog,
	})
	h.Checkouts = checkoutsvc.New(checkoutsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: policy, Locker: locker, Repo: checkoutrepo.Provide(),
		Identity: h.Identity, Entitlements: h.Entitlements, Purchases: h.Purchases, Catalog: h.Catalog, Outbox: h.Outbox,
	})
	h.Payments = paymentsvc.NewService(paymentsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: policy, Locker: locker,
		Repo: paymentrepo.Provide(), Checkouts: h.Checkouts,
	})
	h.Webhooks = webhook.NewService(webhook.Params{
		Log: log, Clock: clk, Cfg: cfg, Policy: policy, PaymentSvc: h.Payments,
		Adapters: adapters.NewRegistry(card.NewFactory()),
	})
	h.Flow = checkoutflowsvc.New(checkoutflowsvc.Params{
		Log: log, Clock: clk, Policy: policy, Locker: locker,
		Users: h.Users, Identity: h.Identity, Catalog: h.Catalog, Checkouts: h.Checkouts,
		Payments: h.Payments, Purchases: h.Purchases, Entitlements: h.Entitlements, Outbox: h.Outbox,
		Gateway: paymentgateway.NewSimulatedGateway(log), Oracle: oracle,
	})
	h.Access = accesssvc.New(accesssvc.Params{
		Log: log, Catalog: h.Catalog, Identity: h.Identity, Entitlements: h.Entitlements, Purchases: h.Purchases,
	})
	h.Audit = auditsvc.NewService(auditsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()})
	h.Reconciliation = reconciliationsvc.New(reconciliationsvc.Params{
		Log: log, Clock: clk, Locker: locker, Users: h.Users, Identity: h.Identity,
		Checkouts: h.Checkouts, Payments: h.Payments, Purchases: h.Purchases,
		Entitlements: h.Entitlements, Audit: h.Audit,
	})
	h.Idempotency = idempotencysvc.New(idempotencysvc.Params{
		DB: db, Log: log, Clock: clk, Policy: policy, Repo: idempotencyrepo.Provide(),
	})

	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("casbin enforcer: %v", err)
	}
	h.Authz = authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	h.Receipts = pdf.New()
	return h
}

func (h *Harness) Ctx() context.Context {
	return context.Background()
}

func (h *Harness) CreateUser(t testing.TB, email string, role userdomain.Role, verified bool) userdomain.User {
	t.Helper()
	user, err := h.Users.Create(h.Ctx(), userdomain.CreateUserRequest{
		Email:         email,
		Name:          "Test " + string(role),
		Phone:         "+15550000000",
		Role:          role,
		EmailVerified: verified,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	if verified {
		id := user.ID
		if _, err := h.Identity.Upsert(h.Ctx(), identitydomain.UpsertRequest{
			Email: user.Email, UserID: &id, State: identitydomain.StateVerified,
		}); err != nil {
			t.Fatalf("verify identity %s: %v", email, err)
		}
	}
	return user
}

// PublishedCourse creates a course with lessonCount published lessons.
func (h *Harness) PublishedCourse(t testing.TB, teacher userdomain.User, title string, price int64, lessonCount int) (catalogdomain.Course, []catalogdomain.Lesson) {
	t.Helper()
	course, err := h.Catalog.CreateCourse(h.Ctx(), catalogdomain.CreateCourseRequest{
		TeacherID: teacher.ID, Title: title, Price: price, Currency: "RUB",
	})
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	lessons := make([]catalogdomain.Lesson, 0, lessonCount)
	for i := 1; i <= lessonCount; i++ {
		lesson, err := h.Catalog.AddLesson(h.Ctx(), teacher.ID, catalogdomain.CreateLessonRequest{
			CourseID: course.ID, Title: title + " lesson", Content: "content", Order: i,
		})
		if err != nil {
			t.Fatalf("add lesson: %v", err)
		}
		lessons = append(lessons, lesson)
	}
	course, err = h.Catalog.Publish(h.Ctx(), teacher.ID, course.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return course, lessons
}

func Actor(user userdomain.User) userdomain.Actor {
	u := user
	return userdomain.Actor{User: &u}
}
