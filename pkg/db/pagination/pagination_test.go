package pagination

import (
	"strconv"
	"testing"
)

func TestTrimBuildsNextToken(t *testing.T) {
	rows := []int{50, 40, 30}
	page, info := Trim(rows, 2, func(v int) string { return strconv.Itoa(v) })
	if len(page) != 2 || !info.HasMore {
		t.Fatalf("expected 2 rows and more pages, got %d rows has_more=%v", len(page), info.HasMore)
	}
	cursor, err := DecodeCursor(info.NextPageToken)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cursor.ID != "40" {
		t.Fatalf("expected cursor at 40, got %s", cursor.ID)
	}
}

func TestTrimLastPage(t *testing.T) {
	page, info := Trim([]int{1}, 2, func(v int) string { return strconv.Itoa(v) })
	if len(page) != 1 || info.HasMore || info.NextPageToken != "" {
		t.Fatalf("expected last page, got %+v", info)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!"); err != ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestLimitBounds(t *testing.T) {
	if got := (Pagination{}).Limit(); got != DefaultPageSize {
		t.Fatalf("expected default, got %d", got)
	}
	if got := (Pagination{PageSize: 1000}).Limit(); got != MaxPageSize {
		t.Fatalf("expected max, got %d", got)
	}
}
