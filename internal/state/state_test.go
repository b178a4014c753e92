package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/weathergram/weathergram/internal/pgexec"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ex, err := pgexec.OpenSQLite(filepath.Join(t.TempDir(), "state_test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = ex.Close() })

	s := NewStore(ex, ex.Dialect())
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestGetOrCreateSeedsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.City != DefaultCity {
		t.Errorf("City = %q, want %q", conv.City, DefaultCity)
	}
	if conv.DateDifference != None || conv.QtyDays != None {
		t.Errorf("slots = %q/%q, want %q/%q", conv.DateDifference, conv.QtyDays, None, None)
	}
	if _, ok := conv.Awaiting(); ok {
		t.Error("fresh conversation reports an awaiting field")
	}
}

func TestGetOrCreateKeepsExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, 100); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.Resolve(ctx, 100, FieldCity, "Kazan"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	conv, err := s.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if conv.City != "Kazan" {
		t.Errorf("City = %q, want Kazan after re-create", conv.City)
	}
}

func TestArmResolveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreate(ctx, 7); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.Arm(ctx, 7, FieldDateDifference); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	conv, err := s.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	field, ok := conv.Awaiting()
	if !ok || field != FieldDateDifference {
		t.Fatalf("Awaiting = %q/%v, want %q/true", field, ok, FieldDateDifference)
	}

	if err := s.Resolve(ctx, 7, FieldDateDifference, "3"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	conv, err = s.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.DateDifference != "3" {
		t.Errorf("DateDifference = %q, want 3", conv.DateDifference)
	}
	if _, ok := conv.Awaiting(); ok {
		t.Error("resolved conversation still reports awaiting")
	}
}

func TestAwaitingPriority(t *testing.T) {
	conv := Conversation{
		City:           AwaitingInput,
		DateDifference: AwaitingInput,
		QtyDays:        AwaitingInput,
	}
	if field, _ := conv.Awaiting(); field != FieldCity {
		t.Errorf("Awaiting = %q, want city first", field)
	}
	conv.City = "Perm"
	if field, _ := conv.Awaiting(); field != FieldDateDifference {
		t.Errorf("Awaiting = %q, want date_difference second", field)
	}
	conv.DateDifference = None
	if field, _ := conv.Awaiting(); field != FieldQtyDays {
		t.Errorf("Awaiting = %q, want qty_days last", field)
	}
}

func TestResolveRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)
	if err := s.Resolve(context.Background(), 1, "chat_id", "0"); err == nil {
		t.Fatal("Resolve accepted a non-armable field")
	}
}

func TestTouchAndPruneOnline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.TouchOnline(ctx, 1, 1000); err != nil {
		t.Fatalf("TouchOnline: %v", err)
	}
	if err := s.TouchOnline(ctx, 1, 2000); err != nil {
		t.Fatalf("TouchOnline update: %v", err)
	}
	if err := s.TouchOnline(ctx, 2, 500); err != nil {
		t.Fatalf("TouchOnline second chat: %v", err)
	}

	pruned, err := s.PruneOnline(ctx, 1500)
	if err != nil {
		t.Fatalf("PruneOnline: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1 (chat 1 was refreshed to 2000)", pruned)
	}
}

func TestRecordActionGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordAction(ctx, 10, 1, "alice", 100, "/current_weather"); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if err := s.RecordAction(ctx, 11, 1, "alice", 100, "hello there"); err != nil {
		t.Fatalf("RecordAction free text: %v", err)
	}
	if err := s.RecordAction(ctx, 12, 1, "alice", 100, "/bogus"); err != nil {
		t.Fatalf("RecordAction unknown command: %v", err)
	}

	rows, err := s.UserActions(ctx, ActionFilter{})
	if err != nil {
		t.Fatalf("UserActions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("recorded %d actions, want 1", len(rows))
	}
	if rows[0].Action != "/current_weather" {
		t.Errorf("action = %q, want /current_weather", rows[0].Action)
	}
}

func TestUserActionsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, rec := range []struct {
		ts     int64
		chatID int64
	}{{100, 1}, {200, 1}, {300, 2}, {400, 1}} {
		if err := s.RecordAction(ctx, rec.ts, int64(i), "u", rec.chatID, "/help"); err != nil {
			t.Fatalf("RecordAction %d: %v", i, err)
		}
	}

	rows, err := s.UserActions(ctx, ActionFilter{ChatID: 1, FromTS: 100, UntilTS: 400})
	if err != nil {
		t.Fatalf("UserActions: %v", err)
	}
	// Bounds are exclusive: ts 100 and 400 drop out, chat 2 is filtered.
	if len(rows) != 1 || rows[0].TS != 200 {
		t.Fatalf("rows = %+v, want single ts=200", rows)
	}

	rows, err = s.UserActions(ctx, ActionFilter{ChatID: 1, Limit: 2})
	if err != nil {
		t.Fatalf("UserActions with limit: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("limit 2 returned %d rows", len(rows))
	}
	if rows[0].TS != 400 || rows[1].TS != 200 {
		t.Errorf("order = %d,%d, want newest first 400,200", rows[0].TS, rows[1].TS)
	}
}

func TestActionsCountBucketsByMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2024-01-15 and 2024-02-15.
	jan := int64(1705276800)
	feb := int64(1707955200)

	for _, rec := range []struct {
		ts     int64
		chatID int64
	}{{jan, 1}, {jan + 60, 1}, {feb, 1}, {jan, 2}} {
		if err := s.RecordAction(ctx, rec.ts, 9, "u", rec.chatID, "/prediction"); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}

	counts, err := s.ActionsCount(ctx, 0)
	if err != nil {
		t.Fatalf("ActionsCount: %v", err)
	}
	want := map[string]int64{
		"1/2024-01": 2,
		"1/2024-02": 1,
		"2/2024-01": 1,
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v, want %d buckets", counts, len(want))
	}
	for _, c := range counts {
		key := fmt.Sprintf("%d/%s", c.ChatID, c.Month)
		if want[key] != c.Count {
			t.Errorf("bucket %s = %d, want %d", key, c.Count, want[key])
		}
	}

	only, err := s.ActionsCount(ctx, 2)
	if err != nil {
		t.Fatalf("ActionsCount chat filter: %v", err)
	}
	if len(only) != 1 || only[0].ChatID != 2 || only[0].Count != 1 {
		t.Errorf("filtered counts = %+v", only)
	}
}
