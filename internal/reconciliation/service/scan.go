package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/reconciliation/domain"
)

type pair struct {
	userID   snowflake.ID
	courseID snowflake.ID
}

// group is everything known about one (user, course) pair.
type group struct {
	pair
	settled      []checkoutdomain.Checkout
	refunded     []checkoutdomain.Checkout
	refundEvents []snowflake.ID
	purchases    []purchasedomain.Purchase
	active       *entitlementdomain.Entitlement
}

func (s *Service) load(ctx context.Context, filter domain.ScanFilter) ([]*group, error) {
	checkouts, err := s.checkouts.List(ctx, checkoutdomain.ListFilter{
		UserID:   filter.UserID,
		CourseID: filter.CourseID,
		Statuses: []checkoutdomain.Status{
			checkoutdomain.StatusPaid,
			checkoutdomain.StatusProvisioning,
			checkoutdomain.StatusProvisioned,
		},
	})
	if err != nil {
		return nil, err
	}
	purchases, err := s.purchases.List(ctx, purchasedomain.ListFilter{UserID: filter.UserID, CourseID: filter.CourseID})
	if err != nil {
		return nil, err
	}
	entitlements, err := s.entitlements.List(ctx, entitlementdomain.ListFilter{
		UserID:   filter.UserID,
		CourseID: filter.CourseID,
		Kind:     entitlementdomain.KindCourseAccess,
		State:    entitlementdomain.StateActive,
	})
	if err != nil {
		return nil, err
	}

	// Negative events that arrived after capture are refunds or chargebacks.
	refunds := map[snowflake.ID][]snowflake.ID{}
	if len(checkouts) > 0 {
		ids := make([]snowflake.ID, 0, len(checkouts))
		for _, c := range checkouts {
			ids = append(ids, c.ID)
		}
		events, err := s.payments.List(ctx, paymentdomain.ListFilter{
			CheckoutIDs: ids,
			Statuses: []checkoutdomain.Status{
				checkoutdomain.StatusFailed,
				checkoutdomain.StatusCanceled,
				checkoutdomain.StatusExpired,
			},
		})
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Outcome == checkoutdomain.OutcomeIgnoredOutOfOrder {
				refunds[ev.CheckoutID] = append(refunds[ev.CheckoutID], ev.ID)
			}
		}
	}

	groups := map[pair]*group{}
	get := func(userID, courseID snowflake.ID) *group {
		key := pair{userID: userID, courseID: courseID}
		g, ok := groups[key]
		if !ok {
			g = &group{pair: key}
			groups[key] = g
		}
		return g
	}

	for _, c := range checkouts {
		if c.UserID == nil {
			continue
		}
		g := get(*c.UserID, c.CourseID)
		if events, ok := refunds[c.ID]; ok {
			g.refunded = append(g.refunded, c)
			g.refundEvents = append(g.refundEvents, events...)
			continue
		}
		g.settled = append(g.settled, c)
	}
	for _, p := range purchases {
		g := get(p.UserID, p.CourseID)
		g.purchases = append(g.purchases, p)
	}
	for i := range entitlements {
		ent := entitlements[i]
		if ent.CourseID == nil {
			continue
		}
		g := get(ent.UserID, *ent.CourseID)
		if g.active == nil {
			g.active = &ent
		}
	}

	out := make([]*group, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.settled, func(i, j int) bool { return g.settled[i].ID < g.settled[j].ID })
		sort.Slice(g.purchases, func(i, j int) bool {
			a, b := g.purchases[i], g.purchases[j]
			if !a.PurchasedAt.Equal(b.PurchasedAt) {
				return a.PurchasedAt.Before(b.PurchasedAt)
			}
			return a.ID < b.ID
		})
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].userID != out[j].userID {
			return out[i].userID < out[j].userID
		}
		return out[i].courseID < out[j].courseID
	})
	return out, nil
}

func detect(g *group) []domain.Issue {
	var issues []domain.Issue
	add := func(t domain.IssueType, sev domain.Severity, fix domain.Fix, detail string) *domain.Issue {
		issues = append(issues, domain.Issue{
			ID:       domain.IssueID(t, g.userID, g.courseID),
			Type:     t,
			Severity: sev,
			UserID:   g.userID,
			CourseID: g.courseID,
			Fix:      fix,
			Detail:   detail,
		})
		issue := &issues[len(issues)-1]
		if g.active != nil {
			id := g.active.ID
			issue.EntitlementID = &id
		}
		return issue
	}
	hasAccess := g.active != nil || len(g.purchases) > 0

	switch {
	case len(g.settled) > 0 && (len(g.purchases) == 0 || g.active == nil):
		issue := add(domain.IssuePaidWithoutAccess, domain.SeverityHigh, domain.FixRestoreAccess,
			"payment captured but purchase or active entitlement missing")
		issue.CheckoutIDs = checkoutIDs(g.settled)
		issue.PurchaseIDs = purchaseIDs(g.purchases)
	case len(g.settled) == 0 && len(g.refunded) > 0 && hasAccess:
		issue := add(domain.IssueRefundedWithAccess, domain.SeverityHigh, domain.FixRevokeAccess,
			"payment reversed after capture while access remains")
		issue.CheckoutIDs = checkoutIDs(g.refunded)
		issue.PurchaseIDs = purchaseIDs(g.purchases)
		issue.EventIDs = g.refundEvents
	case len(g.settled) == 0 && len(g.refunded) == 0 && len(g.purchases) > 0:
		issue := add(domain.IssueAccessWithoutPaid, domain.SeverityHigh, domain.FixRevokeAccess,
			"purchase exists without a captured checkout")
		issue.PurchaseIDs = purchaseIDs(g.purchases)
	}

	if len(g.settled) > 1 {
		issue := add(domain.IssueMultiplePaidCheckouts, domain.SeverityMedium, domain.FixManualReview,
			"more than one captured checkout for the same course")
		issue.CheckoutIDs = checkoutIDs(g.settled)
	}
	if len(g.purchases) > 1 {
		issue := add(domain.IssueDuplicatePurchases, domain.SeverityLow, domain.FixDedupePurchases,
			"more than one purchase row; the oldest is kept")
		issue.PurchaseIDs = purchaseIDs(g.purchases)
	}
	return issues
}

func checkoutIDs(items []checkoutdomain.Checkout) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(items))
	for _, c := range items {
		out = append(out, c.ID)
	}
	return out
}

func purchaseIDs(items []purchasedomain.Purchase) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(items))
	for _, p := range items {
		out = append(out, p.ID)
	}
	return out
}
