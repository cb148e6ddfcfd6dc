package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"poolescrow/core/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	j.SetNowFunc(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return j
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "test.bare" }

func TestJournalRecordsPayloadAttributes(t *testing.T) {
	j := openTestJournal(t)
	var from, to [20]byte
	from[0], to[0] = 1, 2
	j.Emit(events.Transfer{From: from, To: to, Amount: uint256.NewInt(42), Memo: "refund"})
	j.Emit(bareEvent{})

	entries, err := j.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	transfer, bare := entries[0], entries[1]
	if transfer.Type != events.TypeTransfer || transfer.Attributes["amount"] != "42" || transfer.Attributes["memo"] != "refund" {
		t.Fatalf("unexpected transfer entry %+v", transfer)
	}
	if bare.Type != "test.bare" || len(bare.Attributes) != 0 {
		t.Fatalf("unexpected bare entry %+v", bare)
	}
	if transfer.ID == bare.ID {
		t.Fatalf("entries share id %s", transfer.ID)
	}
}

func TestJournalListFilters(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := j.Record(ctx, bareEvent{}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := j.Record(ctx, events.Transfer{Amount: uint256.NewInt(1)}); err != nil {
		t.Fatalf("record transfer: %v", err)
	}

	bare, err := j.List(ctx, Query{Type: "test.bare", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bare) != 2 {
		t.Fatalf("entries = %d, want 2", len(bare))
	}
	if !bare[0].RecordedAt.Before(bare[1].RecordedAt) {
		t.Fatalf("entries out of order: %s then %s", bare[0].RecordedAt, bare[1].RecordedAt)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("  "); !errors.Is(err, ErrDSNRequired) {
		t.Fatalf("expected ErrDSNRequired, got %v", err)
	}
}
