package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Dialect selects placeholder and type syntax for SQLSink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink appends wrapper events to the wrapper_runs table and reads
// finished runs back. The schema is created if missing.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink wraps an opened database. Drivers are registered by the
// sqlite and postgres subpackages.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLSink, error) {
	if db == nil {
		return nil, errors.New("nil database for SQL history sink")
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmt := `CREATE TABLE IF NOT EXISTS wrapper_runs(
		occurred_at ` + ts + ` NOT NULL,
		event TEXT NOT NULL,
		run_id TEXT NOT NULL,
		pid INTEGER NOT NULL,
		name TEXT NOT NULL,
		command TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		stopped BOOLEAN NOT NULL,
		started_at ` + ts + ` NOT NULL,
		finished_at ` + ts + `,
		error TEXT
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS wrapper_runs_name_idx ON wrapper_runs(name, event, occurred_at);`)
	return err
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	r := e.Run
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UTC()
	}
	var errText any
	if r.Error != "" {
		errText = r.Error
	}
	q := s.rebind(`INSERT INTO wrapper_runs(occurred_at, event, run_id, pid, name, command, exit_code, outcome, stopped, started_at, finished_at, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	_, err := s.db.ExecContext(ctx, q,
		e.OccurredAt.UTC(), string(e.Type), r.ID, r.PID, r.Name, r.Command,
		r.ExitCode, r.Outcome, r.Stopped, r.StartedAt.UTC(), finished, errText)
	return err
}

// List returns up to limit finished runs, newest first, optionally only those
// of one supervised name. limit <= 0 means 50.
func (s *SQLSink) List(ctx context.Context, name string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	where := "event = ?"
	args := []any{string(EventFinished)}
	if name != "" {
		where += " AND name = ?"
		args = append(args, name)
	}
	args = append(args, limit)
	q := s.rebind(`SELECT run_id, pid, name, command, exit_code, outcome, stopped, started_at, finished_at, error
		FROM wrapper_runs WHERE ` + where + ` ORDER BY occurred_at DESC LIMIT ?;`)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
			errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PID, &r.Name, &r.Command, &r.ExitCode, &r.Outcome,
			&r.Stopped, &r.StartedAt, &finished, &errText); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind converts ? placeholders to $N for postgres.
func (s *SQLSink) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
