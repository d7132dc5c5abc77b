package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bank_turns/backend/internal/models"
)

func TestSplitID(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
		seq    int
	}{
		{"A001", "A", 1},
		{"B1000", "B", 1000},
		{"VIP", "VIP", 0},
		{"C", "C", 0},
	}
	for _, tt := range tests {
		prefix, seq := splitID(tt.id)
		if prefix != tt.prefix || seq != tt.seq {
			t.Fatalf("splitID(%q) = %q, %d; want %q, %d", tt.id, prefix, seq, tt.prefix, tt.seq)
		}
	}
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.Pool.Exec(ctx, `TRUNCATE turns, pending_turns`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestArchiveAndGetTurnIntegration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := created.Add(2 * time.Minute)
	v := models.TurnView{
		ID:          "A007",
		Priority:    models.PriorityHigh,
		CustomerID:  "c1",
		Status:      models.StatusCompleted,
		Attended:    true,
		ServiceType: "teller",
		Operations:  []models.Operation{models.Deposit("0000000001", 10)},
		CreatedAt:   created,
		StartedAt:   &created,
		FinishedAt:  &finished,
	}
	if err := store.ArchiveTurn(ctx, v); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := store.GetTurn(ctx, "A007")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusCompleted || !got.Attended || len(got.Operations) != 1 || got.Prefix != "A" {
		t.Fatalf("unexpected archived turn %+v", got)
	}
	if _, err := store.GetTurn(ctx, "Z404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListTurns(ctx, string(models.StatusCompleted), 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
}

func TestPendingRoundTripIntegration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	views := []models.TurnView{
		{ID: "C012", Priority: models.PriorityLow, CreatedAt: base},
		{ID: "A003", Priority: models.PriorityHigh, CreatedAt: base.Add(time.Minute), Operations: []models.Operation{models.BalanceInquiry("1")}},
	}
	if err := store.SavePending(ctx, views); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	seqs, err := store.MaxSequences(ctx)
	if err != nil {
		t.Fatalf("max sequences: %v", err)
	}
	if seqs["A"] != 3 || seqs["C"] != 12 {
		t.Fatalf("unexpected sequences %v", seqs)
	}

	loaded, err := store.LoadPending(ctx)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "A003" || loaded[1].ID != "C012" || loaded[0].Status != models.StatusPending {
		t.Fatalf("unexpected pending turns %+v", loaded)
	}
	if again, _ := store.LoadPending(ctx); len(again) != 0 {
		t.Fatalf("pending turns not cleared")
	}
}
