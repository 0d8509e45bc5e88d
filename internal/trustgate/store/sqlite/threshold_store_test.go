package sqlite_test

import (
	"context"
	"testing"

	sqlitestore "github.com/veritas-labs/trustgate/internal/trustgate/store/sqlite"
)

func TestThresholdStore_GetReturnsDefaultForUnknownGroup(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewThresholdStore(conn, w, 60)

	got, err := ts.Get(context.Background(), "never-adjusted")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 60 {
		t.Errorf("expected default 60, got %d", got)
	}
}

func TestThresholdStore_SetPersistsAndOverwrites(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewThresholdStore(conn, w, 60)
	ctx := context.Background()

	if err := ts.Set(ctx, "grp-a", 55); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := ts.Get(ctx, "grp-a"); got != 55 {
		t.Errorf("expected 55 after set, got %d", got)
	}

	// Upsert, not insert-only.
	if err := ts.Set(ctx, "grp-a", 50); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	if got, _ := ts.Get(ctx, "grp-a"); got != 50 {
		t.Errorf("expected 50 after second set, got %d", got)
	}
}

func TestThresholdStore_AllListsOnlyAdjustedGroups(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewThresholdStore(conn, w, 60)
	ctx := context.Background()

	if err := ts.Set(ctx, "grp-a", 55); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ts.Set(ctx, "grp-b", 45); err != nil {
		t.Fatalf("Set: %v", err)
	}

	all, err := ts.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all["grp-a"] != 55 || all["grp-b"] != 45 {
		t.Errorf("unexpected map: %v", all)
	}
}

func TestThresholdStore_BlankGroupIsNoop(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewThresholdStore(conn, w, 60)
	ctx := context.Background()

	if err := ts.Set(ctx, "  ", 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	all, err := ts.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("blank group must not be stored, got %v", all)
	}

	got, err := ts.Get(ctx, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 60 {
		t.Errorf("expected default for blank group, got %d", got)
	}
}
