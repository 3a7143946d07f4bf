package archive

import (
	"testing"
	"time"

	"github.com/meridian/anchorwatch/internal/backfill"
)

func TestObjectKey(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := &backfill.ScanRecord{
		ScanID:    "abc-123",
		ProgramID: "Prog1111",
		EventName: "Swap",
		StartedAt: started,
	}

	got := ObjectKey(rec)
	want := "scans/Prog1111/Swap/20260314T093000Z_abc-123.json"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}
}

func TestObjectKeyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	rec := &backfill.ScanRecord{
		ScanID:    "xyz",
		ProgramID: "Prog1111",
		EventName: "Deposit",
		StartedAt: time.Date(2026, 3, 14, 11, 30, 0, 0, loc),
	}

	got := ObjectKey(rec)
	want := "scans/Prog1111/Deposit/20260314T093000Z_xyz.json"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}
}
