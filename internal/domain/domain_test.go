package domain

import (
	"encoding/json"
	"testing"
)

func TestParseTaskStatus(t *testing.T) {
	for _, s := range []string{"open", "in_progress", "completed", "rejected"} {
		if _, err := ParseTaskStatus(s); err != nil {
			t.Fatalf("ParseTaskStatus(%q): %v", s, err)
		}
	}
	if _, err := ParseTaskStatus("done"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if _, err := ParseTaskStatus(""); err == nil {
		t.Fatalf("expected error for empty status")
	}
}

func TestParseRole(t *testing.T) {
	if _, err := ParseRole("owner"); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if _, err := ParseRole("employee"); err != nil {
		t.Fatalf("employee: %v", err)
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestTaskStatusUnmarshalRejectsUnknown(t *testing.T) {
	var st TaskStatus
	if err := json.Unmarshal([]byte(`"in_progress"`), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st != StatusInProgress {
		t.Fatalf("got %q", st)
	}
	if err := json.Unmarshal([]byte(`"archived"`), &st); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestRoleUnmarshalRejectsUnknown(t *testing.T) {
	var r Role
	if err := json.Unmarshal([]byte(`"employee"`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(`"manager"`), &r); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
