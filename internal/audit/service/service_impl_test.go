package service_test

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
)

func TestRecordMasksContactDetails(t *testing.T) {
	h := harness.New(t)
	actorID := snowflake.ID(10)

	entry, err := h.Audit.Record(h.Ctx(), auditdomain.RecordRequest{
		ActorType: auditdomain.ActorTypeSupport,
		ActorID:   &actorID,
		Action:    "reconciliation.restore_access",
		UserID:    20,
		CourseID:  30,
		Metadata:  map[string]any{"email": "learner@example.com", "issueId": "x"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.Metadata["email"] != "l****@example.com" {
		t.Fatalf("expected masked email, got %v", entry.Metadata["email"])
	}
	if entry.Metadata["issueId"] != "x" {
		t.Fatalf("expected issueId kept, got %v", entry.Metadata["issueId"])
	}
}

func TestRecordValidation(t *testing.T) {
	h := harness.New(t)

	if _, err := h.Audit.Record(h.Ctx(), auditdomain.RecordRequest{Action: " "}); !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("expected invalid action, got %v", err)
	}
	if _, err := h.Audit.Record(h.Ctx(), auditdomain.RecordRequest{
		ActorType: auditdomain.ActorTypeStudent, Action: "x",
	}); !errors.Is(err, auditdomain.ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
	entry, err := h.Audit.Record(h.Ctx(), auditdomain.RecordRequest{Action: "x", UserID: 1, CourseID: 2})
	if err != nil {
		t.Fatalf("system record: %v", err)
	}
	if entry.ActorType != auditdomain.ActorTypeSystem {
		t.Fatalf("expected system actor, got %s", entry.ActorType)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	h := harness.New(t)
	for i := 0; i < 3; i++ {
		if _, err := h.Audit.Record(h.Ctx(), auditdomain.RecordRequest{Action: "reconciliation.dedupe_purchases", UserID: 1, CourseID: 2}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	first, err := h.Audit.List(h.Ctx(), auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Actions) != 2 || !first.HasMore || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	if first.Actions[0].ID < first.Actions[1].ID {
		t.Fatalf("expected newest first")
	}

	second, err := h.Audit.List(h.Ctx(), auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Actions) != 1 || second.HasMore {
		t.Fatalf("unexpected second page: %+v", second)
	}

	if _, err := h.Audit.List(h.Ctx(), auditdomain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}}); !errors.Is(err, auditdomain.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}
