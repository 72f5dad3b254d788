package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sw33tLie/chatscope/pkg/dates"

	_ "modernc.org/sqlite"
)

// idSeparator joins body and metadata before hashing. The ASCII unit separator
// does not occur in rendered chat text, so "a|b"+"c" and "a"+"|bc" never collide.
const idSeparator = "\x1f"

type DB struct {
	sql *sql.DB
	now func() time.Time
}

// MakeID returns the content fingerprint of a message: hex(sha256(text + sep + meta)).
func MakeID(text, meta string) string {
	sum := sha256.Sum256([]byte(text + idSeparator + meta))
	return hex.EncodeToString(sum[:])
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrap("open", err)
	}
	d := &DB{sql: db, now: time.Now}
	if err := d.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SetClock replaces the clock used to decide what "today" is.
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

// migrate creates the messages table and adds the columns that older
// databases lack. Every step is safe to repeat.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS messages (
  id        TEXT PRIMARY KEY,
  sender    TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  text      TEXT NOT NULL
);`); err != nil {
		return wrap("migrate", err)
	}

	cols, err := d.columns(ctx, "messages")
	if err != nil {
		return err
	}

	backfillDates := false
	if !cols["date_ymd"] {
		if _, err := d.sql.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN date_ymd TEXT NOT NULL DEFAULT ''`); err != nil {
			return wrap("migrate", err)
		}
		backfillDates = true
	}
	if !cols["direction"] {
		// Databases without the column only ever tracked received messages.
		if _, err := d.sql.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN direction TEXT NOT NULL DEFAULT 'incoming'`); err != nil {
			return wrap("migrate", err)
		}
	}

	if _, err := d.sql.ExecContext(ctx, `
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date_ymd, direction);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);`); err != nil {
		return wrap("migrate", err)
	}

	if backfillDates {
		return d.backfillDates(ctx)
	}
	return nil
}

func (d *DB) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := d.sql.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, wrap("migrate", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, wrap("migrate", err)
		}
		cols[name] = true
	}
	return cols, wrap("migrate", rows.Err())
}

// backfillDates derives date_ymd for rows stored before the column existed.
func (d *DB) backfillDates(ctx context.Context) error {
	rows, err := d.sql.QueryContext(ctx, "SELECT id, timestamp FROM messages WHERE date_ymd = ''")
	if err != nil {
		return wrap("backfill", err)
	}
	updates := make(map[string]string)
	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			rows.Close()
			return wrap("backfill", err)
		}
		if date, ok := dates.ExtractCalendarDate(ts); ok {
			updates[id] = date
		}
	}
	if err := rows.Close(); err != nil {
		return wrap("backfill", err)
	}

	for id, date := range updates {
		if _, err := d.sql.ExecContext(ctx, "UPDATE messages SET date_ymd = ? WHERE id = ?", date, id); err != nil {
			return wrap("backfill", err)
		}
	}
	return nil
}

// Exists reports whether a message with the fingerprint of (text, meta) is stored.
func (d *DB) Exists(ctx context.Context, text, meta string) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE id = ?", MakeID(text, meta)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("exists", err)
	}
	return true, nil
}

// Add stores a message unless one with the same fingerprint already exists.
// It reports whether a row was inserted. Concurrent calls with the same
// fingerprint insert at most one row: the primary key plus INSERT OR IGNORE
// leave the arbitration to sqlite.
func (d *DB) Add(ctx context.Context, sender, timestamp, text, meta string, dir Direction) (bool, error) {
	if !dir.Valid() {
		return false, fmt.Errorf("invalid direction %q", dir)
	}
	date, _ := dates.ExtractCalendarDate(timestamp)

	res, err := d.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages(id, sender, timestamp, text, date_ymd, direction) VALUES(?,?,?,?,?,?)`,
		MakeID(text, meta), sender, timestamp, text, date, string(dir))
	if err != nil {
		return false, wrap("add", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("add", err)
	}
	return n == 1, nil
}

// CountIncoming returns how many incoming messages are stored for date.
func (d *DB) CountIncoming(ctx context.Context, date string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE date_ymd = ? AND direction = ?", date, string(Incoming)).Scan(&n)
	if err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

// CountTodayIncoming returns how many incoming messages are stored for the current date.
func (d *DB) CountTodayIncoming(ctx context.Context) (int, error) {
	return d.CountIncoming(ctx, dates.Today(d.now()))
}

// FetchByDate returns every message of date, optionally restricted to one
// direction, ordered by the raw timestamp string. The ordering is
// lexicographic on "HH:MM, DD/MM/YYYY", which is chronological only inside a
// single calendar date.
func (d *DB) FetchByDate(ctx context.Context, date string, dir Direction) ([]Message, error) {
	q := "SELECT id, sender, timestamp, text, date_ymd, direction FROM messages WHERE date_ymd = ?"
	args := []interface{}{date}
	if dir != Any {
		q += " AND direction = ?"
		args = append(args, string(dir))
	}
	q += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("fetch", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var direction string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Timestamp, &m.Text, &m.Date, &direction); err != nil {
			return nil, wrap("fetch", err)
		}
		m.Direction = Direction(direction)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("fetch", err)
	}
	return out, nil
}

// GetStats returns message totals grouped by date and direction, newest date first.
// Rows with an unparseable timestamp are grouped under an empty date.
func (d *DB) GetStats(ctx context.Context) ([]DateStats, error) {
	query := `
		SELECT
			date_ymd,
			direction,
			COUNT(*)
		FROM
			messages
		GROUP BY
			date_ymd, direction
		ORDER BY
			date_ymd DESC, direction;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("stats", err)
	}
	defer rows.Close()

	var stats []DateStats
	for rows.Next() {
		var s DateStats
		var direction string
		if err := rows.Scan(&s.Date, &direction, &s.Count); err != nil {
			return nil, wrap("stats", err)
		}
		s.Direction = Direction(direction)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stats", err)
	}
	return stats, nil
}
