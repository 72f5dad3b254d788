package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rowCount(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.sql.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestMakeID(t *testing.T) {
	if MakeID("hello", "[08:56, 08/08/2025] Fulano: ") != MakeID("hello", "[08:56, 08/08/2025] Fulano: ") {
		t.Fatalf("expected deterministic fingerprint")
	}
	if MakeID("a|b", "c") == MakeID("a", "|bc") {
		t.Fatalf("field boundary collision")
	}
	if MakeID("ab", "") == MakeID("a", "b") {
		t.Fatalf("field boundary collision with empty metadata")
	}
	if MakeID("hello", "m1") == MakeID("hello", "m2") {
		t.Fatalf("expected different fingerprints for different metadata")
	}
	if len(MakeID("x", "y")) != 64 {
		t.Fatalf("expected hex sha256, got %q", MakeID("x", "y"))
	}
}

func TestAddIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.Add(ctx, "Fulano", "08:56, 08/08/2025", "oi", "[08:56, 08/08/2025] Fulano: ", Incoming)
	if err != nil || !inserted {
		t.Fatalf("first add: inserted=%v err=%v", inserted, err)
	}
	// Same body and metadata, everything else different.
	inserted, err = db.Add(ctx, "Ciclano", "09:00, 09/08/2025", "oi", "[08:56, 08/08/2025] Fulano: ", Outgoing)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate add to be a no-op")
	}
	if n := rowCount(t, db); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	msgs, err := db.FetchByDate(ctx, "2025-08-08", Any)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != "Fulano" || msgs[0].Direction != Incoming {
		t.Fatalf("expected the first write to win, got %+v", msgs)
	}
}

func TestAddConcurrentSameFingerprint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	insertedCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.Add(ctx, "Fulano", "08:56, 08/08/2025", "race", "meta", Incoming)
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			if ok {
				mu.Lock()
				insertedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if insertedCount != 1 {
		t.Fatalf("expected exactly one effective insert, got %d", insertedCount)
	}
	if n := rowCount(t, db); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ok, err := db.Exists(ctx, "oi", "meta")
	if err != nil || ok {
		t.Fatalf("expected missing message, got ok=%v err=%v", ok, err)
	}
	if _, err := db.Add(ctx, "Fulano", "08:56, 08/08/2025", "oi", "meta", Incoming); err != nil {
		t.Fatalf("add: %v", err)
	}
	ok, err = db.Exists(ctx, "oi", "meta")
	if err != nil || !ok {
		t.Fatalf("expected stored message, got ok=%v err=%v", ok, err)
	}
	if ok, _ := db.Exists(ctx, "oi", "other meta"); ok {
		t.Fatalf("expected different metadata to be a different message")
	}
}

func TestAddRejectsInvalidDirection(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Add(context.Background(), "Fulano", "08:56, 08/08/2025", "oi", "meta", Direction("sideways")); err == nil {
		t.Fatalf("expected error for invalid direction")
	}
}

func TestFetchByDate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := []struct {
		ts, text string
		dir      Direction
	}{
		{"10:15, 08/08/2025", "second", Incoming},
		{"08:56, 08/08/2025", "first", Incoming},
		{"11:00, 08/08/2025", "reply", Outgoing},
		{"07:00, 09/08/2025", "next day", Incoming},
	}
	for _, s := range seed {
		if _, err := db.Add(ctx, "Fulano", s.ts, s.text, "["+s.ts+"] Fulano: ", s.dir); err != nil {
			t.Fatalf("add %q: %v", s.text, err)
		}
	}

	all, err := db.FetchByDate(ctx, "2025-08-08", Any)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(all), all)
	}
	if all[0].Text != "first" || all[1].Text != "second" || all[2].Text != "reply" {
		t.Fatalf("expected rows ordered by timestamp, got %+v", all)
	}

	incoming, err := db.FetchByDate(ctx, "2025-08-08", Incoming)
	if err != nil {
		t.Fatalf("fetch incoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Fatalf("expected 2 incoming rows, got %d", len(incoming))
	}

	outgoing, err := db.FetchByDate(ctx, "2025-08-08", Outgoing)
	if err != nil {
		t.Fatalf("fetch outgoing: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].Text != "reply" {
		t.Fatalf("expected 1 outgoing row, got %+v", outgoing)
	}

	none, err := db.FetchByDate(ctx, "2025-08-10", Any)
	if err != nil {
		t.Fatalf("fetch empty: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rows, got %+v", none)
	}
}

func TestUnparseableTimestampIsStoredWithoutDate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.Add(ctx, "Fulano", "ontem às 10h", "oi", "meta", Incoming)
	if err != nil || !inserted {
		t.Fatalf("add: inserted=%v err=%v", inserted, err)
	}
	var date string
	if err := db.sql.QueryRow("SELECT date_ymd FROM messages").Scan(&date); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if date != "" {
		t.Fatalf("expected empty date, got %q", date)
	}
}

func TestCountTodayIncoming(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.SetClock(func() time.Time { return time.Date(2025, time.August, 8, 12, 0, 0, 0, time.Local) })

	before, err := db.CountTodayIncoming(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if _, err := db.Add(ctx, "Fulano", "08:56, 08/08/2025", "oi", "m1", Incoming); err != nil {
		t.Fatalf("add: %v", err)
	}
	after, _ := db.CountTodayIncoming(ctx)
	if after != before+1 {
		t.Fatalf("expected count %d, got %d", before+1, after)
	}

	if _, err := db.Add(ctx, "Fulano", "08:56, 08/08/2025", "oi", "m1", Incoming); err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	if _, err := db.Add(ctx, "Eu", "09:00, 08/08/2025", "tchau", "m2", Outgoing); err != nil {
		t.Fatalf("add outgoing: %v", err)
	}
	if _, err := db.Add(ctx, "Fulano", "09:00, 07/08/2025", "old", "m3", Incoming); err != nil {
		t.Fatalf("add yesterday: %v", err)
	}
	final, _ := db.CountTodayIncoming(ctx)
	if final != after {
		t.Fatalf("expected count to stay %d, got %d", after, final)
	}
}

func TestOpenMigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.sqlite")

	raw, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec(`CREATE TABLE messages (id TEXT PRIMARY KEY, sender TEXT NOT NULL, timestamp TEXT NOT NULL, text TEXT NOT NULL)`); err != nil {
		t.Fatalf("create legacy: %v", err)
	}
	if _, err := raw.Exec(`INSERT INTO messages VALUES (?, 'Fulano', '08:56, 08/08/2025', 'legacy')`, MakeID("legacy", "meta")); err != nil {
		t.Fatalf("seed legacy: %v", err)
	}
	raw.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	msgs, err := db.FetchByDate(context.Background(), "2025-08-08", Incoming)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "legacy" {
		t.Fatalf("expected legacy row to survive with derived date, got %+v", msgs)
	}
	db.Close()

	// Reopening an already migrated database must not fail.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if ok, _ := db.Exists(context.Background(), "legacy", "meta"); !ok {
		t.Fatalf("expected legacy row after reopen")
	}
}

func TestStorageErrorsAreTyped(t *testing.T) {
	db := openTestDB(t)
	db.Close()

	_, err := db.Exists(context.Background(), "oi", "meta")
	if !IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "exists" {
		t.Fatalf("expected exists op, got %+v", se)
	}

	if _, err := db.Add(context.Background(), "Fulano", "08:56, 08/08/2025", "oi", "meta", Incoming); !IsStorageError(err) {
		t.Fatalf("expected StorageError from add, got %v", err)
	}
	if _, err := db.FetchByDate(context.Background(), "2025-08-08", Any); !IsStorageError(err) {
		t.Fatalf("expected StorageError from fetch, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.Add(ctx, "Fulano", "08:56, 08/08/2025", "a", "m1", Incoming)
	db.Add(ctx, "Fulano", "08:57, 08/08/2025", "b", "m2", Incoming)
	db.Add(ctx, "Eu", "08:58, 08/08/2025", "c", "m3", Outgoing)
	db.Add(ctx, "Fulano", "08:56, 09/08/2025", "d", "m4", Incoming)

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := []DateStats{
		{Date: "2025-08-09", Direction: Incoming, Count: 1},
		{Date: "2025-08-08", Direction: Incoming, Count: 2},
		{Date: "2025-08-08", Direction: Outgoing, Count: 1},
	}
	if len(stats) != len(want) {
		t.Fatalf("expected %d groups, got %+v", len(want), stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Fatalf("group %d: want %+v, got %+v", i, want[i], stats[i])
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{"": Any, "any": Any, "all": Any, "in": Incoming, "incoming": Incoming, "out": Outgoing, "outgoing": Outgoing}
	for in, want := range tests {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Fatalf("ParseDirection(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDirection("up"); err == nil {
		t.Fatalf("expected error for bad direction")
	}
}
