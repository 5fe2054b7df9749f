package domain

import (
	"errors"
	"time"

	"github.com/smallbiznis/coursemart/internal/config"
)

type ItemStatus string

const (
	ItemPaid    ItemStatus = "paid"
	ItemDue     ItemStatus = "due"
	ItemOverdue ItemStatus = "overdue"
	ItemFailed  ItemStatus = "failed"
)

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanOverdue   PlanStatus = "overdue"
	PlanCompleted PlanStatus = "completed"
)

type FinancialStatus string

const (
	FinancialOK         FinancialStatus = "ok"
	FinancialUpcoming   FinancialStatus = "upcoming"
	FinancialGrace      FinancialStatus = "grace"
	FinancialRestricted FinancialStatus = "restricted"
	FinancialSuspended  FinancialStatus = "suspended"
)

type AccessLevel string

const (
	AccessFull                 AccessLevel = "full"
	AccessRestrictedNewContent AccessLevel = "restricted_new_content"
	AccessSuspendedReadonly    AccessLevel = "suspended_readonly"
)

type ScheduleItem struct {
	DueDate time.Time  `json:"dueDate"`
	Amount  int64      `json:"amount"`
	Status  ItemStatus `json:"status"`
	PaidAt  *time.Time `json:"paidAt,omitempty"`
}

// Plan is the canonical installment state embedded in a purchase. Schedule is
// kept sorted by DueDate.
type Plan struct {
	InstallmentsCount int            `json:"installmentsCount"`
	PaidCount         int            `json:"paidCount"`
	NextPaymentDate   *time.Time     `json:"nextPaymentDate,omitempty"`
	LastKnownStatus   PlanStatus     `json:"lastKnownStatus"`
	Schedule          []ScheduleItem `json:"schedule"`
}

// Assessment is the derived financial view of a plan at a point in time.
type Assessment struct {
	FinancialStatus FinancialStatus `json:"financialStatus"`
	OverdueDays     int             `json:"overdueDays"`
	AccessLevel     AccessLevel     `json:"accessLevel"`
}

type Policy struct {
	DefaultInstallments int
	IntervalDays        int
	GraceDays           int
	RestrictedFromDay   int
	SuspendedFromDay    int
	UpcomingWindowDays  int
}

func PolicyFrom(cfg config.BnplPolicy) Policy {
	return Policy{
		DefaultInstallments: cfg.DefaultInstallments,
		IntervalDays:        cfg.IntervalDays,
		GraceDays:           cfg.GraceDays,
		RestrictedFromDay:   cfg.RestrictedFromDay,
		SuspendedFromDay:    cfg.SuspendedFromDay,
		UpcomingWindowDays:  cfg.UpcomingWindowDays,
	}
}

const (
	MinInstallments = 2
	MaxInstallments = 12
)

var (
	ErrInvalidInstallments = errors.New("invalid_bnpl_installments")
	ErrInvalidAmount       = errors.New("invalid_bnpl_amount")
	ErrPlanCompleted       = errors.New("bnpl_plan_completed")
	ErrNoPlan              = errors.New("bnpl_plan_missing")
)
