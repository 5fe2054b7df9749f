package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
)

func fingerprint(body string) domain.Fingerprint {
	return domain.Fingerprint{
		Key:      "key-1",
		Method:   "POST",
		Path:     "/api/checkouts",
		BodyHash: domain.BodyHash([]byte(body)),
	}
}

func TestSaveThenLookupReplays(t *testing.T) {
	h := harness.New(t)
	fp := fingerprint(`{"courseId":"1"}`)

	record, err := h.Idempotency.Lookup(h.Ctx(), fp)
	if err != nil || record != nil {
		t.Fatalf("expected unused key, got %v %v", record, err)
	}
	if err := h.Idempotency.Save(h.Ctx(), fp, domain.Response{
		StatusCode: 201, ContentType: "application/json", Body: []byte(`{"ok":true}`),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A second save for the same key keeps the first response.
	if err := h.Idempotency.Save(h.Ctx(), fp, domain.Response{StatusCode: 500}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	record, err = h.Idempotency.Lookup(h.Ctx(), fp)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record == nil || record.StatusCode != 201 || string(record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestLookupConflictOnDifferentBody(t *testing.T) {
	h := harness.New(t)
	if err := h.Idempotency.Save(h.Ctx(), fingerprint(`{"a":1}`), domain.Response{StatusCode: 200}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := h.Idempotency.Lookup(h.Ctx(), fingerprint(`{"a":2}`))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestExpiredRecordsArePruned(t *testing.T) {
	h := harness.New(t)
	fp := fingerprint(`{}`)
	if err := h.Idempotency.Save(h.Ctx(), fp, domain.Response{StatusCode: 200}); err != nil {
		t.Fatalf("save: %v", err)
	}

	h.Clock.Advance(25 * time.Hour)
	pruned, err := h.Idempotency.Prune(h.Ctx())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one pruned record, got %d", pruned)
	}
	record, err := h.Idempotency.Lookup(h.Ctx(), fp)
	if err != nil || record != nil {
		t.Fatalf("expected key free again, got %v %v", record, err)
	}
}

func TestInvalidKey(t *testing.T) {
	h := harness.New(t)
	for _, key := range []string{"", "   ", strings.Repeat("k", 256)} {
		fp := fingerprint(`{}`)
		fp.Key = key
		if _, err := h.Idempotency.Lookup(h.Ctx(), fp); !errors.Is(err, domain.ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key, got %v", key, err)
		}
	}
}
