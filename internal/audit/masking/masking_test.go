package masking

import "testing"

func TestMaskEmail(t *testing.T) {
	if got := MaskEmail("student@example.com"); got != "s****@example.com" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskEmail("broken"); got != "****oken" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestMaskMetadata(t *testing.T) {
	got := MaskMetadata(map[string]any{
		"email":    "buyer@example.com",
		"phone":    "+15550001234",
		"issueId":  "paid_without_access:1:2",
		"nested":   map[string]any{"code": "a1b2c3d4"},
		"attempts": 3,
		" ":        "dropped",
	})
	if got["email"] != "b****@example.com" {
		t.Fatalf("email not masked: %v", got["email"])
	}
	if got["phone"] != "****1234" {
		t.Fatalf("phone not masked: %v", got["phone"])
	}
	if got["issueId"] != "paid_without_access:1:2" {
		t.Fatalf("plain value changed: %v", got["issueId"])
	}
	if nested := got["nested"].(map[string]any); nested["code"] != "****c3d4" {
		t.Fatalf("nested code not masked: %v", nested["code"])
	}
	if got["attempts"] != 3 {
		t.Fatalf("non string changed: %v", got["attempts"])
	}
	if _, ok := got[" "]; ok {
		t.Fatalf("blank key kept")
	}
}
