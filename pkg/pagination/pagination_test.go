package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC),
		ID:        uuid.New(),
	}
	parsed, err := ParseCursor(EncodeCursor(original))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.CreatedAt.Equal(original.CreatedAt) || parsed.ID != original.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, original)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor should be nil, got %+v err=%v", c, err)
	}
	if _, err := ParseCursor("not-base64!"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := ParseCursor("bm8tc2VwYXJhdG9y"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestNormalizeLimit(t *testing.T) {
	if NormalizeLimit(0) != DefaultLimit {
		t.Fatalf("expected default limit")
	}
	if NormalizeLimit(MaxLimit+50) != MaxLimit {
		t.Fatalf("expected limit to be capped")
	}
	if LimitWithBuffer(10) != 11 {
		t.Fatalf("expected buffered limit")
	}
}

func TestTrim(t *testing.T) {
	now := time.Now().UTC()
	type row struct {
		id uuid.UUID
		at time.Time
	}
	rows := []row{{uuid.New(), now}, {uuid.New(), now.Add(-time.Minute)}, {uuid.New(), now.Add(-2 * time.Minute)}}
	cursorOf := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 2, cursorOf)
	if len(page) != 2 || next == "" {
		t.Fatalf("expected a trimmed page with a cursor, got %d rows cursor=%q", len(page), next)
	}
	parsed, err := ParseCursor(next)
	if err != nil || parsed.ID != rows[1].id {
		t.Fatalf("cursor should point at last row of page, got %+v err=%v", parsed, err)
	}

	page, next = Trim(rows, 5, cursorOf)
	if len(page) != 3 || next != "" {
		t.Fatalf("expected full page without cursor, got %d rows cursor=%q", len(page), next)
	}
}
