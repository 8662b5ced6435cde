package metricstore

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewWithDB(db, nil)
	if err != nil {
		t.Fatalf("NewWithDB failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		store.Append(ctx, Record{
			RequestID:       string(rune('a' + i)),
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			Strategy:        "fusion",
			Complexity:      "moderate",
			CandidatesFused: 10 + i,
			Confidence:      0.9,
		})
	}

	records, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// 新的在前
	if records[0].RequestID != "c" || records[1].RequestID != "b" {
		t.Errorf("expected newest-first order c,b got %s,%s", records[0].RequestID, records[1].RequestID)
	}
	if records[0].CandidatesFused != 12 {
		t.Errorf("unexpected payload %+v", records[0])
	}
}

func TestStore_AppendFillsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, Record{RequestID: "x", Strategy: "multi_hop"})

	records, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("CreatedAt must be filled on append")
	}
}

func TestJoinTopics(t *testing.T) {
	if got := JoinTopics([]string{"wiring", "installation"}); got != "wiring,installation" {
		t.Errorf("unexpected encoding %q", got)
	}
	if got := JoinTopics(nil); got != "" {
		t.Errorf("nil topics must encode empty, got %q", got)
	}
}
