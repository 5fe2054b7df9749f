package domain

import (
	"time"
)

const day = 24 * time.Hour

// BuildPlan splits price into installments spaced IntervalDays apart starting
// at purchasedAt. The first installment is the down payment and is paid at
// purchase time; any rounding remainder is charged with it.
func BuildPlan(price int64, purchasedAt time.Time, installments int, policy Policy) (Plan, error) {
	if installments == 0 {
		installments = policy.DefaultInstallments
	}
	if installments < MinInstallments || installments > MaxInstallments {
		return Plan{}, ErrInvalidInstallments
	}
	if price < int64(installments) {
		return Plan{}, ErrInvalidAmount
	}

	base := price / int64(installments)
	remainder := price - base*int64(installments)
	interval := time.Duration(policy.IntervalDays) * day
	paidAt := purchasedAt

	schedule := make([]ScheduleItem, installments)
	for i := range schedule {
		schedule[i] = ScheduleItem{
			DueDate: purchasedAt.Add(time.Duration(i) * interval),
			Amount:  base,
			Status:  ItemDue,
		}
	}
	schedule[0].Amount += remainder
	schedule[0].Status = ItemPaid
	schedule[0].PaidAt = &paidAt

	plan := Plan{
		InstallmentsCount: installments,
		Schedule:          schedule,
	}
	recompute(&plan)
	return plan, nil
}

// PayInstallment settles the earliest unpaid item regardless of its due date.
func PayInstallment(plan Plan, now time.Time) (Plan, ScheduleItem, error) {
	next := clonePlan(plan)
	for i := range next.Schedule {
		if next.Schedule[i].Status == ItemPaid {
			continue
		}
		paidAt := now
		next.Schedule[i].Status = ItemPaid
		next.Schedule[i].PaidAt = &paidAt
		recompute(&next)
		return next, next.Schedule[i], nil
	}
	return plan, ScheduleItem{}, ErrPlanCompleted
}

// PayRemaining settles every unpaid item at once and returns the amount paid.
func PayRemaining(plan Plan, now time.Time) (Plan, int64, error) {
	next := clonePlan(plan)
	var total int64
	for i := range next.Schedule {
		if next.Schedule[i].Status == ItemPaid {
			continue
		}
		paidAt := now
		next.Schedule[i].Status = ItemPaid
		next.Schedule[i].PaidAt = &paidAt
		total += next.Schedule[i].Amount
	}
	if total == 0 {
		return plan, 0, ErrPlanCompleted
	}
	recompute(&next)
	return next, total, nil
}

// MarkOverdue flags unpaid items whose due day has passed.
func MarkOverdue(plan Plan, now time.Time) Plan {
	next := clonePlan(plan)
	today := startOfDay(now)
	for i := range next.Schedule {
		if next.Schedule[i].Status == ItemDue && startOfDay(next.Schedule[i].DueDate).Before(today) {
			next.Schedule[i].Status = ItemOverdue
		}
	}
	recompute(&next)
	return next
}

// OverdueDays counts whole days between the earliest past-due unpaid item and
// now. Time of day is ignored on both sides.
func OverdueDays(plan Plan, now time.Time) int {
	today := startOfDay(now)
	for _, item := range plan.Schedule {
		if item.Status == ItemPaid {
			continue
		}
		due := startOfDay(item.DueDate)
		if due.Before(today) {
			return int(today.Sub(due) / day)
		}
		// schedule is sorted; later items cannot be earlier
		return 0
	}
	return 0
}

func Assess(plan Plan, now time.Time, policy Policy) Assessment {
	overdue := OverdueDays(plan, now)
	status := FinancialOK
	switch {
	case overdue >= policy.SuspendedFromDay:
		status = FinancialSuspended
	case overdue >= policy.RestrictedFromDay:
		status = FinancialRestricted
	case overdue >= 1 && overdue <= policy.GraceDays:
		status = FinancialGrace
	case overdue >= 1:
		// Past grace but short of restriction.
		status = FinancialOK
	case plan.NextPaymentDate != nil && daysUntil(now, *plan.NextPaymentDate) <= policy.UpcomingWindowDays:
		status = FinancialUpcoming
	}
	return Assessment{
		FinancialStatus: status,
		OverdueDays:     overdue,
		AccessLevel:     AccessLevelFor(status),
	}
}

func AccessLevelFor(status FinancialStatus) AccessLevel {
	switch status {
	case FinancialRestricted:
		return AccessRestrictedNewContent
	case FinancialSuspended:
		return AccessSuspendedReadonly
	default:
		return AccessFull
	}
}

func recompute(plan *Plan) {
	paid := 0
	overdue := false
	plan.NextPaymentDate = nil
	for i := range plan.Schedule {
		item := plan.Schedule[i]
		switch item.Status {
		case ItemPaid:
			paid++
			continue
		case ItemOverdue, ItemFailed:
			overdue = true
		}
		if plan.NextPaymentDate == nil {
			due := item.DueDate
			plan.NextPaymentDate = &due
		}
	}
	if paid > plan.InstallmentsCount {
		paid = plan.InstallmentsCount
	}
	plan.PaidCount = paid

	switch {
	case plan.NextPaymentDate == nil:
		plan.LastKnownStatus = PlanCompleted
	case overdue:
		plan.LastKnownStatus = PlanOverdue
	default:
		plan.LastKnownStatus = PlanActive
	}
}

func clonePlan(plan Plan) Plan {
	out := plan
	out.Schedule = make([]ScheduleItem, len(plan.Schedule))
	copy(out.Schedule, plan.Schedule)
	return out
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysUntil(now, due time.Time) int {
	return int(startOfDay(due).Sub(startOfDay(now)) / day)
}
