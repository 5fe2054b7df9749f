package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
)

type IssueType string

const (
	IssuePaidWithoutAccess     IssueType = "paid_without_access"
	IssueAccessWithoutPaid     IssueType = "access_without_paid"
	IssueMultiplePaidCheckouts IssueType = "multiple_paid_checkouts"
	IssueDuplicatePurchases    IssueType = "duplicate_purchases"
	IssueRefundedWithAccess    IssueType = "refunded_with_access"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Fix is the repair proposed for an issue.
type Fix string

const (
	FixRestoreAccess   Fix = "restore_access"
	FixDedupePurchases Fix = "dedupe_purchases"
	FixRevokeAccess    Fix = "revoke_access"
	FixManualReview    Fix = "manual_review"
)

// Safe fixes only ever grant access or drop duplicate rows.
func (f Fix) Safe() bool {
	return f == FixRestoreAccess || f == FixDedupePurchases
}

type Issue struct {
	ID            string         `json:"id"`
	Type          IssueType      `json:"type"`
	Severity      Severity       `json:"severity"`
	UserID        snowflake.ID   `json:"userId"`
	CourseID      snowflake.ID   `json:"courseId"`
	CheckoutIDs   []snowflake.ID `json:"checkoutIds,omitempty"`
	PurchaseIDs   []snowflake.ID `json:"purchaseIds,omitempty"`
	EntitlementID *snowflake.ID  `json:"entitlementId,omitempty"`
	EventIDs      []snowflake.ID `json:"eventIds,omitempty"`
	Fix           Fix            `json:"fix"`
	Detail        string         `json:"detail"`
}

func IssueID(t IssueType, userID, courseID snowflake.ID) string {
	return fmt.Sprintf("%s:%s:%s", t, userID, courseID)
}

type ActionStatus string

const (
	ActionApplied              ActionStatus = "applied"
	ActionPlanned              ActionStatus = "planned"
	ActionManualReviewRequired ActionStatus = "manual_review_required"
	ActionSkipped              ActionStatus = "skipped"
	ActionFailed               ActionStatus = "failed"
)

type Action struct {
	IssueID  string        `json:"issueId"`
	Type     IssueType     `json:"type"`
	Fix      Fix           `json:"fix"`
	Status   ActionStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	RecordID *snowflake.ID `json:"recordId,omitempty"`
}

type ScanFilter struct {
	UserID   *snowflake.ID
	CourseID *snowflake.ID
}

type RunRequest struct {
	Filter          ScanFilter
	DryRun          bool
	IncludeHighRisk bool
	ActorType       auditdomain.ActorType
	ActorID         *snowflake.ID
}

type RunResult struct {
	DryRun       bool     `json:"dryRun"`
	Issues       []Issue  `json:"issues"`
	Actions      []Action `json:"actions"`
	Applied      int      `json:"applied"`
	ManualReview int      `json:"manualReview"`
}
