package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"
)

// maxErrorLength is the stored message limit.
const maxErrorLength = 255

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	ID    int64     `json:"id"`
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
}

// ErrorLog stores failures from background work.
type ErrorLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewErrorLog creates an error log over db.
func NewErrorLog(db *sql.DB) *ErrorLog {
	return &ErrorLog{db: db, now: time.Now}
}

// Record stores err's message, cut to 255 characters. A nil err is ignored.
func (l *ErrorLog) Record(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	_, execErr := l.db.ExecContext(ctx,
		`INSERT INTO general_errors (time, error) VALUES (?, ?)`,
		l.now().UTC().Format(time.RFC3339Nano), truncate(err.Error(), maxErrorLength),
	)
	if execErr != nil {
		return fmt.Errorf("recording error: %w", execErr)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (l *ErrorLog) List(ctx context.Context, limit int) ([]ErrorEntry, error) {
	limit, _ = clampPage(limit, 0)

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, time, error FROM general_errors ORDER BY time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying errors: %w", err)
	}
	defer rows.Close()

	entries := []ErrorEntry{}
	for rows.Next() {
		var e ErrorEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning error entry: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating errors: %w", err)
	}
	return entries, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
