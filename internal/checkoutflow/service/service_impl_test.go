package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	"github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	paymentgateway "github.com/smallbiznis/coursemart/internal/providers/payment"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anonymous = userdomain.Actor{}

func course(t *testing.T, h *harness.Harness) catalogdomain.Course {
	t.Helper()
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	c, _ := h.PublishedCourse(t, teacher, "Statistics", 6000, 3)
	return c
}

func start(h *harness.Harness, actor userdomain.Actor, courseID snowflake.ID, email string, method checkoutdomain.Method) (domain.StartResult, error) {
	return h.Flow.StartCheckout(h.Ctx(), actor, domain.StartRequest{
		CourseID: courseID, Email: email, Method: method, ConsentAccepted: true,
	})
}

func TestGuestCheckoutWaitsForVerification(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)

	res, err := start(h, anonymous, c.ID, "Guest@Example.com ", checkoutdomain.MethodMock)
	require.NoError(t, err)
	assert.True(t, res.Guest)
	assert.Equal(t, "guest@example.com", res.Checkout.Email)
	assert.Equal(t, checkoutdomain.StatusProvisioning, res.Checkout.Status)
	assert.Equal(t, identitydomain.StateKnownUnverified, res.Identity.State)
	require.NotNil(t, res.Checkout.UserID)

	ent, err := h.Entitlements.FindCourseEntitlement(h.Ctx(), *res.Checkout.UserID, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, entitlementdomain.StatePendingActivation, ent.State)

	queued, err := h.Outbox.List(h.Ctx(), outboxdomain.ListFilter{RecipientEmail: "guest@example.com"})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, outboxdomain.TemplateIdentityVerification, queued[0].Template)

	_, err = h.Flow.ConfirmIdentity(h.Ctx(), "guest@example.com", "deadbeef")
	require.ErrorIs(t, err, identitydomain.ErrInvalidCode)

	confirmed, err := h.Flow.ConfirmIdentity(h.Ctx(), "guest@example.com", h.Identity.VerificationCode("guest@example.com"))
	require.NoError(t, err)
	assert.True(t, confirmed.User.EmailVerified)
	assert.EqualValues(t, 1, confirmed.ActivatedEntitlements)
	require.Len(t, confirmed.Resumed, 1)
	assert.Equal(t, checkoutdomain.StatusProvisioned, confirmed.Resumed[0].Status)

	purchase, err := h.Purchases.FindForUserCourse(h.Ctx(), confirmed.User.ID, c.ID)
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.Equal(t, "mock", purchase.PaymentMethod)
}

func TestStartCheckoutValidation(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	bad := 13

	tests := []struct {
		name string
		req  domain.StartRequest
		want error
	}{
		{name: "consent", req: domain.StartRequest{CourseID: c.ID, Email: "a@example.com", Method: checkoutdomain.MethodMock}, want: domain.ErrConsentRequired},
		{name: "method", req: domain.StartRequest{CourseID: c.ID, Email: "a@example.com", Method: "cash", ConsentAccepted: true}, want: checkoutdomain.ErrInvalidMethod},
		{name: "installments", req: domain.StartRequest{CourseID: c.ID, Email: "a@example.com", Method: checkoutdomain.MethodBnpl, BnplInstallmentsCount: &bad, ConsentAccepted: true}, want: bnpldomain.ErrInvalidInstallments},
		{name: "email", req: domain.StartRequest{CourseID: c.ID, Email: "not-an-email", Method: checkoutdomain.MethodMock, ConsentAccepted: true}, want: checkoutdomain.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Flow.StartCheckout(h.Ctx(), anonymous, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStartCheckoutRejectsVerifiedEmailForGuest(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	h.CreateUser(t, "owner@example.com", userdomain.RoleStudent, true)

	_, err := start(h, anonymous, c.ID, "owner@example.com", checkoutdomain.MethodMock)
	require.ErrorIs(t, err, domain.ErrEmailCollision)
}

func TestStartCheckoutForVerifiedUserProvisions(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	actor := harness.Actor(student)

	res, err := start(h, actor, c.ID, "", checkoutdomain.MethodBnpl)
	require.NoError(t, err)
	assert.False(t, res.Guest)
	assert.Equal(t, checkoutdomain.StatusProvisioned, res.Checkout.Status)
	require.NotNil(t, res.Checkout.BnplInstallmentsCount)

	_, err = start(h, actor, c.ID, "", checkoutdomain.MethodMock)
	require.ErrorIs(t, err, domain.ErrAlreadyPurchased)

	_, err = start(h, actor, c.ID, "someone@example.com", checkoutdomain.MethodMock)
	require.ErrorIs(t, err, identitydomain.ErrIdentityMismatch)
}

func TestStartCheckoutReusesActiveAttempt(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	actor := harness.Actor(student)

	first, err := start(h, actor, c.ID, "", checkoutdomain.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusAwaitingPayment, first.Checkout.Status)

	second, err := start(h, actor, c.ID, "", checkoutdomain.MethodCard)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Checkout.ID, second.Checkout.ID)
}

func TestCancelRetryAndCancelAfterPayment(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	actor := harness.Actor(student)

	res, err := start(h, actor, c.ID, "", checkoutdomain.MethodCard)
	require.NoError(t, err)

	_, err = h.Flow.Retry(h.Ctx(), actor, res.Checkout.ID)
	require.ErrorIs(t, err, checkoutdomain.ErrNotRetryable)

	canceled, err := h.Flow.Cancel(h.Ctx(), actor, res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusCanceled, canceled.Checkout.Status)

	h.Clock.Advance(time.Minute)
	retried, err := h.Flow.Retry(h.Ctx(), actor, res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusAwaitingPayment, retried.Status)
	assert.True(t, retried.ExpiresAt.After(res.Checkout.ExpiresAt))

	paid, err := h.Flow.ConfirmPaid(h.Ctx(), res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusProvisioned, paid.Checkout.Status)

	_, err = h.Flow.Cancel(h.Ctx(), actor, res.Checkout.ID)
	require.ErrorIs(t, err, checkoutdomain.ErrAlreadyPaid)

	stranger := h.CreateUser(t, "stranger@example.com", userdomain.RoleStudent, true)
	_, err = h.Flow.Cancel(h.Ctx(), harness.Actor(stranger), res.Checkout.ID)
	require.ErrorIs(t, err, domain.ErrNotCheckoutOwner)
}

func TestExpireStale(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)

	res, err := start(h, harness.Actor(student), c.ID, "", checkoutdomain.MethodSBP)
	require.NoError(t, err)

	swept, err := h.Flow.ExpireStale(h.Ctx(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, swept.Scanned)

	h.Clock.Advance(31 * time.Minute)
	swept, err = h.Flow.ExpireStale(h.Ctx(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepResult{Scanned: 1, Applied: 1}, swept)

	checkout, err := h.Checkouts.Get(h.Ctx(), res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusExpired, checkout.Status)
}

func TestAutoSettleUsesOracle(t *testing.T) {
	h := harness.New(t, harness.WithOracle(paymentgateway.FixedOracle(checkoutdomain.StatusPaid)))
	c := course(t, h)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)

	res, err := start(h, harness.Actor(student), c.ID, "", checkoutdomain.MethodCard)
	require.NoError(t, err)

	swept, err := h.Flow.AutoSettle(h.Ctx(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, swept.Scanned)

	h.Clock.Advance(10 * time.Second)
	swept, err = h.Flow.AutoSettle(h.Ctx(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept.Applied)

	checkout, err := h.Checkouts.Get(h.Ctx(), res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusProvisioned, checkout.Status)
}

func TestAttachCheckoutResumesProvisioning(t *testing.T) {
	h := harness.New(t)
	c := course(t, h)

	res, err := start(h, anonymous, c.ID, "late@example.com", checkoutdomain.MethodMock)
	require.NoError(t, err)
	require.Equal(t, checkoutdomain.StatusProvisioning, res.Checkout.Status)

	_, err = h.Flow.AttachCheckout(h.Ctx(), anonymous, res.Checkout.ID)
	require.ErrorIs(t, err, domain.ErrAuthenticationRequired)

	guest, err := h.Users.GetByEmail(h.Ctx(), "late@example.com")
	require.NoError(t, err)
	_, err = h.Flow.AttachCheckout(h.Ctx(), harness.Actor(guest), res.Checkout.ID)
	require.ErrorIs(t, err, entitlementdomain.ErrIdentityUnverified)

	require.NoError(t, h.Users.MarkEmailVerified(h.Ctx(), guest.ID))
	guest.EmailVerified = true
	attached, err := h.Flow.AttachCheckout(h.Ctx(), harness.Actor(guest), res.Checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, checkoutdomain.StatusProvisioned, attached.Status)
}
