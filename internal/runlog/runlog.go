// Package runlog provides the append-only audit trail of agent ticks.
// Every tick writes exactly one entry; entries are never updated.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

// Store manages the agent_runs table
type Store struct {
	db    *sql.DB
	clock core.Clock
	log   *logging.Logger
}

// NewStore creates a new run log store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: core.SystemClock{}, log: logging.WithField("component", "runlog")}
}

// WithClock returns a copy of the store stamping entries with clock
func (s *Store) WithClock(clock core.Clock) *Store {
	return &Store{db: s.db, clock: clock, log: s.log}
}

// Append writes run and returns the stored entry. Metadata that cannot be
// serialized is dropped rather than failing the write.
func (s *Store) Append(ctx context.Context, run core.AgentRun) (*core.AgentRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC().Truncate(time.Millisecond)

	var metadata sql.NullString
	if len(run.Metadata) > 0 {
		data, err := json.Marshal(run.Metadata)
		if err != nil {
			s.log.WithError(err).WithField("persona", run.PersonaID).Warn("dropping unserializable run metadata")
			run.Metadata = nil
		} else {
			metadata = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, persona_id, task_type, status, duration_ms, thread_id, post_id, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.PersonaID, run.TaskType, run.Status, run.DurationMs,
		nullString(run.ThreadID), nullString(run.PostID), nullString(run.Error), metadata, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert agent run: %w", err)
	}

	return &run, nil
}

// Log is the fire-and-forget form of Append used by the engine.
// Failures are logged and swallowed so they never change a tick's result.
func (s *Store) Log(ctx context.Context, run core.AgentRun) {
	if _, err := s.Append(ctx, run); err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{
			"persona": run.PersonaID,
			"task":    run.TaskType,
			"status":  run.Status,
		}).Error("failed to write agent run")
	}
}

// QueryOptions filters run log reads
type QueryOptions struct {
	PersonaID core.PersonaID
	Status    core.RunStatus
	TaskType  core.TaskType
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Query returns entries matching opts, newest first
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*core.AgentRun, error) {
	query := `
		SELECT id, persona_id, task_type, status, duration_ms, thread_id, post_id, error, metadata, created_at
		FROM agent_runs WHERE 1=1
	`
	var args []interface{}

	if opts.PersonaID != "" {
		query += " AND persona_id = ?"
		args = append(args, opts.PersonaID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.TaskType != "" {
		query += " AND task_type = ?"
		args = append(args, opts.TaskType)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, opts.Until.UTC())
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.AgentRun
	for rows.Next() {
		var run core.AgentRun
		var threadID, postID, errMsg, metadata sql.NullString
		var taskType, status, personaID string

		if err := rows.Scan(&run.ID, &personaID, &taskType, &status, &run.DurationMs,
			&threadID, &postID, &errMsg, &metadata, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}

		run.PersonaID = core.PersonaID(personaID)
		run.TaskType = core.TaskType(taskType)
		run.Status = core.RunStatus(status)
		run.ThreadID = threadID.String
		run.PostID = postID.String
		run.Error = errMsg.String
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &run.Metadata)
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// ListRecent returns the most recent runs across all personas
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*core.AgentRun, error) {
	return s.Query(ctx, QueryOptions{Limit: limit})
}

// ListByPersona returns the most recent runs of one persona
func (s *Store) ListByPersona(ctx context.Context, personaID core.PersonaID, limit int) ([]*core.AgentRun, error) {
	return s.Query(ctx, QueryOptions{PersonaID: personaID, Limit: limit})
}

// Summary aggregates the run log for dashboards
type Summary struct {
	TotalRuns   int            `json:"total_runs"`
	ByStatus    map[string]int `json:"by_status"`
	ByTaskType  map[string]int `json:"by_task_type"`
	AvgDuration float64        `json:"avg_duration_ms"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	SkipReasons map[string]int `json:"skip_reasons"`
}

// GetSummary aggregates runs created at or after since (zero means all)
func (s *Store) GetSummary(ctx context.Context, since time.Time) (*Summary, error) {
	summary := &Summary{
		ByStatus:    make(map[string]int),
		ByTaskType:  make(map[string]int),
		SkipReasons: make(map[string]int),
	}

	where := ""
	var args []interface{}
	if !since.IsZero() {
		where = " WHERE created_at >= ?"
		args = append(args, since.UTC())
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), AVG(duration_ms) FROM agent_runs"+where, args...).
		Scan(&summary.TotalRuns, &avg); err != nil {
		return nil, err
	}
	summary.AvgDuration = avg.Float64

	var last sql.NullString
	s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM agent_runs"+where, args...).Scan(&last)
	if last.Valid {
		if t, err := parseStoredTime(last.String); err == nil {
			summary.LastRunAt = &t
		}
	}

	if err := s.countInto(ctx, summary.ByStatus, "SELECT status, COUNT(*) FROM agent_runs"+where+" GROUP BY status", args); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, summary.ByTaskType, "SELECT task_type, COUNT(*) FROM agent_runs"+where+" GROUP BY task_type", args); err != nil {
		return nil, err
	}

	// Skip reasons live in metadata.reason; older entries carried them in error
	reason := "COALESCE(json_extract(metadata, '$.reason'), error)"
	skipWhere := " WHERE status = 'skipped' AND " + reason + " IS NOT NULL"
	if where != "" {
		skipWhere += " AND created_at >= ?"
	}
	if err := s.countInto(ctx, summary.SkipReasons, "SELECT "+reason+", COUNT(*) FROM agent_runs"+skipWhere+" GROUP BY 1", args); err != nil {
		return nil, err
	}

	return summary, nil
}

func (s *Store) countInto(ctx context.Context, dst map[string]int, query string, args []interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
