package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	"gorm.io/datatypes"
)

type CourseSnapshot struct {
	ID          snowflake.ID `json:"id"`
	Slug        string       `json:"slug"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	TeacherID   snowflake.ID `json:"teacherId"`
}

type LessonSnapshot struct {
	ID      snowflake.ID `json:"id"`
	Order   int          `json:"order"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
}

// Purchase is materialized once a checkout is provisioned. Snapshots freeze
// course content at purchase time and are only replaced on republish.
type Purchase struct {
	ID                   snowflake.ID                         `gorm:"primaryKey" json:"id"`
	UserID               snowflake.ID                         `gorm:"not null;index:idx_purchases_user_course" json:"userId"`
	CourseID             snowflake.ID                         `gorm:"not null;index:idx_purchases_user_course" json:"courseId"`
	CheckoutID           *snowflake.ID                        `gorm:"index" json:"checkoutId,omitempty"`
	Price                int64                                `gorm:"not null" json:"price"`
	Currency             string                               `gorm:"type:varchar(8);not null" json:"currency"`
	PaymentMethod        string                               `gorm:"type:varchar(16);not null" json:"paymentMethod"`
	PurchasedAt          time.Time                            `gorm:"not null" json:"purchasedAt"`
	Bnpl                 datatypes.JSONType[*bnpldomain.Plan] `gorm:"not null" json:"bnpl"`
	CourseSnapshot       datatypes.JSONType[CourseSnapshot]   `gorm:"not null" json:"courseSnapshot"`
	LessonsSnapshot      datatypes.JSONSlice[LessonSnapshot]  `gorm:"not null" json:"lessonsSnapshot"`
	PurchasedTestItemIDs datatypes.JSONSlice[string]          `gorm:"not null" json:"purchasedTestItemIds"`
	CreatedAt            time.Time                            `gorm:"not null" json:"createdAt"`
	UpdatedAt            time.Time                            `gorm:"not null" json:"updatedAt"`
}

func (Purchase) TableName() string { return "purchases" }

func (p Purchase) Plan() *bnpldomain.Plan {
	return p.Bnpl.Data()
}

// SnapshotLesson returns the frozen copy of a lesson, if any.
func (p Purchase) SnapshotLesson(lessonID snowflake.ID) (LessonSnapshot, bool) {
	for _, lesson := range p.LessonsSnapshot {
		if lesson.ID == lessonID {
			return lesson, true
		}
	}
	return LessonSnapshot{}, false
}

type LessonProgress struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID   snowflake.ID `gorm:"not null;uniqueIndex:ux_lesson_progress_user_lesson" json:"userId"`
	LessonID snowflake.ID `gorm:"not null;uniqueIndex:ux_lesson_progress_user_lesson" json:"lessonId"`
	CourseID snowflake.ID `gorm:"not null;index" json:"courseId"`
	OpenedAt time.Time    `gorm:"not null" json:"openedAt"`
}

func (LessonProgress) TableName() string { return "lesson_progress" }

// View is the serialized form of a purchase. The flattened bnpl fields are
// derived from the nested plan here and never stored.
type View struct {
	Purchase

	BnplInstallmentsCount *int                       `json:"bnplInstallmentsCount,omitempty"`
	BnplPaidCount         *int                       `json:"bnplPaidCount,omitempty"`
	BnplNextPaymentDate   *time.Time                 `json:"bnplNextPaymentDate,omitempty"`
	BnplStatus            bnpldomain.PlanStatus      `json:"bnplStatus,omitempty"`
	FinancialStatus       bnpldomain.FinancialStatus `json:"financialStatus"`
	OverdueDays           int                        `json:"overdueDays"`
	AccessLevel           bnpldomain.AccessLevel     `json:"accessLevel"`
}

func NewView(p Purchase, now time.Time, policy bnpldomain.Policy) View {
	view := View{
		Purchase:        p,
		FinancialStatus: bnpldomain.FinancialOK,
		AccessLevel:     bnpldomain.AccessFull,
	}
	plan := p.Plan()
	if plan == nil {
		return view
	}
	current := bnpldomain.MarkOverdue(*plan, now)
	view.Bnpl = datatypes.NewJSONType(&current)
	installments := current.InstallmentsCount
	paid := current.PaidCount
	view.BnplInstallmentsCount = &installments
	view.BnplPaidCount = &paid
	view.BnplNextPaymentDate = current.NextPaymentDate
	view.BnplStatus = current.LastKnownStatus

	assessment := bnpldomain.Assess(current, now, policy)
	view.FinancialStatus = assessment.FinancialStatus
	view.OverdueDays = assessment.OverdueDays
	view.AccessLevel = assessment.AccessLevel
	return view
}
