package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accessdomain "github.com/smallbiznis/coursemart/internal/access/domain"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/authorization"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	"github.com/smallbiznis/coursemart/internal/config"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/observability"
	obslogger "github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	obstracing "github.com/smallbiznis/coursemart/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"github.com/smallbiznis/coursemart/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	reconciliationdomain "github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	users          userdomain.Service
	catalog        catalogdomain.Service
	flow           checkoutflowdomain.Service
	payments       paymentdomain.Service
	webhooks       paymentdomain.WebhookService
	purchases      purchasedomain.Service
	access         accessdomain.Service
	reconciliation reconciliationdomain.Service
	auditSvc       auditdomain.Service
	outbox         outboxdomain.Service
	idempotency    idempotencydomain.Service
	authzSvc       authorization.Service
	receipts       pdf.Provider
	locker         lock.Locker
	publicLimiter  *ratelimit.PublicLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Users          userdomain.Service
	Catalog        catalogdomain.Service
	Flow           checkoutflowdomain.Service
	Payments       paymentdomain.Service
	Webhooks       paymentdomain.WebhookService
	Purchases      purchasedomain.Service
	Access         accessdomain.Service
	Reconciliation reconciliationdomain.Service
	AuditSvc       auditdomain.Service
	Outbox         outboxdomain.Service
	Idempotency    idempotencydomain.Service
	AuthzSvc       authorization.Service
	Receipts       pdf.Provider
	Locker         lock.Locker
	PublicLimiter  *ratelimit.PublicLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		users:          p.Users,
		catalog:        p.Catalog,
		flow:           p.Flow,
		payments:       p.Payments,
		webhooks:       p.Webhooks,
		purchases:      p.Purchases,
		access:         p.Access,
		reconciliation: p.Reconciliation,
		auditSvc:       p.AuditSvc,
		outbox:         p.Outbox,
		idempotency:    p.Idempotency,
		authzSvc:       p.AuthzSvc,
		receipts:       p.Receipts,
		locker:         p.Locker,
		publicLimiter:  p.PublicLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerProviderRoutes()
	svc.registerAPIRoutes()
	svc.registerSupportRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerProviderRoutes holds callbacks from payment providers. They carry
// no user and are authenticated by signature.
func (s *Server) registerProviderRoutes() {
	s.engine.POST("/payments/providers/:provider/webhook", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("", s.ResolveActor())

	// -------- Catalogue --------
	api.GET("/courses", s.ListCourses)
	api.GET("/courses/:id", s.GetCourse)
	api.POST("/courses", s.authorize(authorization.ObjectCourse, authorization.ActionCourseCreate), s.CreateCourse)
	api.POST("/courses/:id/lessons", s.authorize(authorization.ObjectCourse, authorization.ActionCourseCreate), s.AddLesson)
	api.POST("/courses/:id/publish", s.authorize(authorization.ObjectCourse, authorization.ActionCoursePublish), s.PublishCourse)

	// -------- Checkout --------
	api.POST("/purchases/checkout",
		s.PublicRateLimit("purchases.checkout"),
		s.Idempotent("purchases.checkout"),
		s.StartCheckout,
	)
	api.POST("/purchases/checkout/attach", RequireUser(), s.AttachCheckout)
	api.POST("/identity/confirm", s.PublicRateLimit("identity.confirm"), s.ConfirmIdentity)
	api.POST("/identity/resend", s.PublicRateLimit("identity.resend"), s.ResendVerification)

	api.GET("/checkouts/:id", s.GetCheckout)
	api.GET("/checkouts/:id/status", s.GetCheckoutStatus)
	api.GET("/checkouts/:id/timeline", s.GetCheckoutTimeline)
	api.POST("/checkouts/:id/retry", s.RetryCheckout)
	api.POST("/checkouts/:id/cancel", s.CancelCheckout)
	api.POST("/checkouts/:id/confirm-paid",
		s.authorize(authorization.ObjectCheckout, authorization.ActionCheckoutConfirmPaid),
		s.ConfirmCheckoutPaid,
	)

	// -------- Purchases --------
	api.GET("/purchases", RequireUser(), s.ListPurchases)
	api.GET("/purchases/:id", RequireUser(), s.GetPurchase)
	api.GET("/purchases/:id/receipt", RequireUser(), s.GetPurchaseReceipt)
	api.POST("/purchases/:id/bnpl/pay-installment", RequireUser(), s.PayInstallment)
	api.POST("/purchases/:id/bnpl/pay-remaining", RequireUser(), s.PayRemaining)

	// -------- Payments --------
	api.POST("/payments/events",
		s.authorize(authorization.ObjectPaymentEvent, authorization.ActionPaymentEventInject),
		s.InjectPaymentEvent,
	)

	// -------- Access --------
	api.GET("/access/courses", s.ListCourseAccess)
	api.GET("/access/courses/:id", s.GetCourseAccess)
	api.GET("/access/lessons/:id", s.GetLessonAccess)
	api.POST("/access/lessons/:id/open", RequireUser(), s.OpenLesson)
}

func (s *Server) registerSupportRoutes() {
	support := s.engine.Group("/support", s.ResolveActor())

	support.GET("/reconciliation/issues",
		s.authorize(authorization.ObjectReconciliation, authorization.ActionReconciliationScan),
		s.ListReconciliationIssues,
	)
	support.POST("/reconciliation/run",
		s.authorize(authorization.ObjectReconciliation, authorization.ActionReconciliationRun),
		s.RunReconciliation,
	)
	support.POST("/self-heal-access",
		s.authorize(authorization.ObjectReconciliation, authorization.ActionReconciliationSelfHeal),
		s.SelfHealAccess,
	)

	support.GET("/outbox", s.authorize(authorization.ObjectOutbox, authorization.ActionOutboxView), s.ListOutbox)
	support.POST("/outbox/:id/retry", s.authorize(authorization.ObjectOutbox, authorization.ActionOutboxRetry), s.RetryOutbox)

	support.GET("/actions",
		s.authorize(authorization.ObjectSupportAction, authorization.ActionSupportActionView),
		s.ListSupportActions,
	)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
