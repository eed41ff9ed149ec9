// Package audit persists a row per completed CRI operation to sqlite:
// method name, the composite sandbox/container id the operation acted
// on (if any), the resulting status code, and how long it took.
//
// The audit log is never consulted to answer a CRI read; the
// in-memory runtime model remains sole authority. It exists purely
// for operational debugging, surfaced read-only through a CLI
// subcommand.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nuxinl/scuba/internal/rpcstatus"
	"github.com/nuxinl/scuba/internal/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Event is one completed CRI operation.
type Event struct {
	ID         string
	Method     string
	TargetID   string
	Code       rpcstatus.Code
	Duration   time.Duration
	RecordedAt time.Time
}

// Recorder appends Events to a sqlite database.
type Recorder struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path.
func Open(path string) (*Recorder, error) {
	db, err := sqlitemigrate.Open(path, migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// NewCorrelationID mints an id a caller can attach to tracing spans
// and later pass as Event.ID.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Record appends ev, assigning a correlation id if one wasn't already
// set by the caller.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = NewCorrelationID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operations (id, method, target_id, status_code, duration_ms, recorded_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Method, ev.TargetID, ev.Code.String(), ev.Duration.Milliseconds(), ev.RecordedAt.Unix())
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", ev.Method, ev.ID, err)
	}
	return nil
}

// List returns the most recent events, newest first, capped at limit
// (a non-positive limit means "no cap").
func (r *Recorder) List(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT id, method, target_id, status_code, duration_ms, recorded_unix
	          FROM operations ORDER BY recorded_unix DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			code        string
			durationMs  int64
			recordedUnx int64
		)
		if err := rows.Scan(&ev.ID, &ev.Method, &ev.TargetID, &code, &durationMs, &recordedUnx); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev.Code = parseCode(code)
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		ev.RecordedAt = time.Unix(recordedUnx, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func parseCode(s string) rpcstatus.Code {
	for _, c := range []rpcstatus.Code{
		rpcstatus.OK, rpcstatus.NotFound, rpcstatus.InvalidArgument,
		rpcstatus.Internal, rpcstatus.Unimplemented,
	} {
		if c.String() == s {
			return c
		}
	}
	return rpcstatus.Internal
}
