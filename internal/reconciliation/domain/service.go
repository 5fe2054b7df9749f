package domain

import (
	"context"
	"errors"

	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
)

type Service interface {
	Scan(ctx context.Context, filter ScanFilter) ([]Issue, error)
	// Run applies safe fixes and, only with IncludeHighRisk, revocations.
	// DryRun reports the plan without writing.
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	// SelfHeal repairs the calling student's own records with safe fixes only.
	SelfHeal(ctx context.Context, actor userdomain.Actor) (RunResult, error)
}

var (
	ErrSelfHealStudentOnly = errors.New("self_heal_student_only")
	ErrProfileIncomplete   = errors.New("profile_incomplete")
)
