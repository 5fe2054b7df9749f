package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/observability"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/card"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	"github.com/smallbiznis/coursemart/internal/server"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	h      *harness.Harness
	engine *gin.Engine
}

func newTestServer(t *testing.T, limiter *ratelimit.PublicLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := harness.New(t)
	engine := server.NewEngine(observability.Config{}, nil)
	server.NewServer(server.ServerParams{
		Gin:            engine,
		Cfg:            h.Cfg,
		Log:            h.Log,
		Users:          h.Users,
		Catalog:        h.Catalog,
		Flow:           h.Flow,
		Payments:       h.Payments,
		Webhooks:       h.Webhooks,
		Purchases:      h.Purchases,
		Access:         h.Access,
		Reconciliation: h.Reconciliation,
		AuditSvc:       h.Audit,
		Outbox:         h.Outbox,
		Idempotency:    h.Idempotency,
		AuthzSvc:       h.Authz,
		Receipts:       h.Receipts,
		Locker:         h.Locker,
		PublicLimiter:  limiter,
	})
	return &testServer{h: h, engine: engine}
}

func (s *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func asUser(user userdomain.User) map[string]string {
	return map[string]string{server.HeaderUserID: user.ID.String()}
}

type errorBody struct {
	Error struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func countCheckouts(t *testing.T, h *harness.Harness) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.DB.Model(&checkoutdomain.Checkout{}).Count(&n).Error)
	return n
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.h
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	physics, _ := h.PublishedCourse(t, teacher, "Physics", 2500, 2)
	chemistry, _ := h.PublishedCourse(t, teacher, "Chemistry", 3000, 2)

	headers := asUser(student)
	headers[server.HeaderIdempotencyKey] = "key-1"
	body := []byte(fmt.Sprintf(`{"courseId":"%s","method":"mock","consentAccepted":true}`, physics.ID))

	first := s.do(http.MethodPost, "/purchases/checkout", body, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(http.MethodPost, "/purchases/checkout", body, headers)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(server.HeaderIdempotencyReplayed))
	assert.EqualValues(t, 1, countCheckouts(t, h))

	other := []byte(fmt.Sprintf(`{"courseId":"%s","method":"mock","consentAccepted":true}`, chemistry.ID))
	conflict := s.do(http.MethodPost, "/purchases/checkout", other, headers)
	require.Equal(t, http.StatusConflict, conflict.Code, conflict.Body.String())
	assert.Equal(t, "idempotency_conflict", decodeError(t, conflict).Error.Code)
	assert.EqualValues(t, 1, countCheckouts(t, h))
}

func TestCheckoutDomainConflicts(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.h
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	h.CreateUser(t, "member@example.com", userdomain.RoleStudent, true)
	course, _ := h.PublishedCourse(t, teacher, "Physics", 2500, 2)

	noConsent := []byte(fmt.Sprintf(`{"courseId":"%s","email":"guest@example.com","method":"mock"}`, course.ID))
	rec := s.do(http.MethodPost, "/purchases/checkout", noConsent, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "consent_required", decodeError(t, rec).Error.Code)

	collision := []byte(fmt.Sprintf(`{"courseId":"%s","email":"member@example.com","method":"mock","consentAccepted":true}`, course.ID))
	rec = s.do(http.MethodPost, "/purchases/checkout", collision, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "identity_email_collision", decodeError(t, rec).Error.Code)

	badMethod := []byte(fmt.Sprintf(`{"courseId":"%s","email":"guest@example.com","method":"cash","consentAccepted":true}`, course.ID))
	rec = s.do(http.MethodPost, "/purchases/checkout", badMethod, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_payment_method", decodeError(t, rec).Error.Code)
}

func TestCardWebhookSignature(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.h
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, _ := h.PublishedCourse(t, teacher, "Physics", 2500, 1)

	start := s.do(http.MethodPost, "/purchases/checkout",
		[]byte(fmt.Sprintf(`{"courseId":"%s","method":"card","consentAccepted":true}`, course.ID)),
		asUser(student))
	require.Equal(t, http.StatusCreated, start.Code, start.Body.String())
	var started struct {
		Data struct {
			Checkout checkoutdomain.Checkout `json:"checkout"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(start.Body.Bytes(), &started))
	checkoutID := started.Data.Checkout.ID
	require.Equal(t, checkoutdomain.StatusAwaitingPayment, started.Data.Checkout.Status)

	events, err := h.Payments.Timeline(h.Ctx(), checkoutID)
	require.NoError(t, err)
	before := len(events)

	payload := []byte(fmt.Sprintf(`{"id":"evt_42","type":"payment.succeeded","checkoutId":"%s"}`, checkoutID))
	ts := h.Clock.Now().Unix()

	tampered := s.do(http.MethodPost, "/payments/providers/card/webhook", payload, map[string]string{
		card.HeaderTimestamp: strconv.FormatInt(ts, 10),
		card.HeaderSignature: card.Sign("not-the-secret", ts, payload),
	})
	require.Equal(t, http.StatusUnauthorized, tampered.Code, tampered.Body.String())
	assert.Equal(t, "invalid_signature", decodeError(t, tampered).Error.Code)

	events, err = h.Payments.Timeline(h.Ctx(), checkoutID)
	require.NoError(t, err)
	assert.Len(t, events, before)

	valid := s.do(http.MethodPost, "/payments/providers/card/webhook", payload, map[string]string{
		card.HeaderTimestamp: strconv.FormatInt(ts, 10),
		card.HeaderSignature: card.Sign(harness.CardWebhookSecret, ts, payload),
	})
	require.Equal(t, http.StatusOK, valid.Code, valid.Body.String())

	events, err = h.Payments.Timeline(h.Ctx(), checkoutID)
	require.NoError(t, err)
	assert.Len(t, events, before+1)

	status := s.do(http.MethodGet, fmt.Sprintf("/checkouts/%s/status", checkoutID), nil, asUser(student))
	require.Equal(t, http.StatusOK, status.Code, status.Body.String())
	assert.Contains(t, status.Body.String(), `"status":"provisioned"`)
}

func TestSupportRoutesAreRoleGated(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.h
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	support := h.CreateUser(t, "support@example.com", userdomain.RoleSupport, true)

	rec := s.do(http.MethodGet, "/support/outbox", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/support/outbox", nil, asUser(student))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/support/outbox?status=queued", nil, asUser(support))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/support/self-heal-access", nil, asUser(support))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/support/self-heal-access", nil, asUser(student))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/support/reconciliation/issues", nil, map[string]string{server.HeaderUserID: "12345"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseReceiptAndOwnership(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.h
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	stranger := h.CreateUser(t, "stranger@example.com", userdomain.RoleStudent, true)
	course, _ := h.PublishedCourse(t, teacher, "Physics", 2500, 1)

	start := s.do(http.MethodPost, "/purchases/checkout",
		[]byte(fmt.Sprintf(`{"courseId":"%s","method":"bnpl","bnplInstallmentsCount":4,"consentAccepted":true}`, course.ID)),
		asUser(student))
	require.Equal(t, http.StatusCreated, start.Code, start.Body.String())

	purchase, err := h.Purchases.FindForUserCourse(h.Ctx(), student.ID, course.ID)
	require.NoError(t, err)
	require.NotNil(t, purchase)

	rec := s.do(http.MethodGet, "/purchases/"+purchase.ID.String(), nil, asUser(student))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"bnplInstallmentsCount":4`)

	rec = s.do(http.MethodGet, "/purchases/"+purchase.ID.String(), nil, asUser(stranger))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/purchases/"+purchase.ID.String()+"/bnpl/pay-installment", nil, asUser(student))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"bnplPaidCount":2`)

	rec = s.do(http.MethodGet, "/purchases/"+purchase.ID.String()+"/receipt", nil, asUser(student))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestPublicRateLimit(t *testing.T) {
	s := newTestServer(t, nil)
	limited := newTestServer(t, ratelimit.NewPublicLimiterWith(ratelimit.NewLocal(1, 1, s.h.Clock.Now)))

	body := []byte(`{"email":"nobody@example.com","code":"00000000"}`)
	first := limited.do(http.MethodPost, "/identity/confirm", body, nil)
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := limited.do(http.MethodPost, "/identity/confirm", body, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code, second.Body.String())
	assert.Equal(t, "rate_limited", decodeError(t, second).Error.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	unlimited := s.do(http.MethodPost, "/identity/confirm", body, nil)
	assert.NotEqual(t, http.StatusTooManyRequests, unlimited.Code)
}
