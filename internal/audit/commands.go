package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List queries.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CommandRecord is one command sent to a hub through the API.
type CommandRecord struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	ParameterID int       `json:"parameter_id"`
	CommandType int       `json:"command_type"`
	Value       int32     `json:"value"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	Address     int       `json:"address"`
	ReplyValue  int64     `json:"reply_value"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which command records to return.
type Filter struct {
	DeviceID string // optional: only this hub
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult contains a page of command records.
type ListResult struct {
	Records []CommandRecord `json:"records"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// CommandLog stores command records in SQLite.
type CommandLog struct {
	db *sql.DB
}

// NewCommandLog creates a command log over db.
func NewCommandLog(db *sql.DB) *CommandLog {
	return &CommandLog{db: db}
}

// Create inserts rec. ID and CreatedAt are generated if empty.
func (l *CommandLog) Create(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO user_configs (id, device_id, parameter_id, command_type, value,
			success, reason, address, reply_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, rec.ParameterID, rec.CommandType, rec.Value,
		rec.Success, rec.Reason, rec.Address, rec.ReplyValue,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}
	return nil
}

// List returns records matching the filter, most recent first.
func (l *CommandLog) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM user_configs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := l.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command records: %w", err)
	}

	query := `SELECT id, device_id, parameter_id, command_type, value, success, reason,
			address, reply_value, created_at
		FROM user_configs ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command records: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var rec CommandRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.ParameterID, &rec.CommandType, &rec.Value,
			&rec.Success, &rec.Reason, &rec.Address, &rec.ReplyValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command timestamp %q: %w", createdAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command records: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
