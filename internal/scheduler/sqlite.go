package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig holds connection settings for the SQLite backend.
type SQLiteConfig struct {
	MaxOpenConns   int
	ConnectTimeout time.Duration
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		// modernc.org/sqlite serializes writes; one connection avoids SQLITE_BUSY.
		MaxOpenConns:   1,
		ConnectTimeout: 10 * time.Second,
	}
}

// SQLiteStore implements Store on a local SQLite file, so scheduled tasks
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// Timestamps are stored as unix nanoseconds so the due-task comparison is a
// plain integer predicate. Zero means unset.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	tool_name   TEXT NOT NULL DEFAULT '',
	args        TEXT NOT NULL DEFAULT '',
	prompt      TEXT NOT NULL DEFAULT '',
	schedule    TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	next_run    INTEGER NOT NULL DEFAULT 0,
	last_run    INTEGER NOT NULL DEFAULT 0,
	run_count   INTEGER NOT NULL DEFAULT 0,
	max_runs    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due
	ON scheduled_tasks (status, next_run);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_user
	ON scheduled_tasks (user_id, created_at);
`

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(path string, config *SQLiteConfig) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, task *Task) error {
	sched, err := json.Marshal(task.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks
			(session_id, user_id, kind, tool_name, args, prompt, schedule, status,
			 created_at, next_run, last_run, run_count, max_runs, last_error, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.SessionID, task.UserID, string(task.Kind), task.ToolName, string(task.Args),
		task.Prompt, string(sched), string(task.Status),
		toNanos(task.CreatedAt), toNanos(task.NextRun), toNanos(task.LastRun),
		task.RunCount, task.MaxRuns, task.LastError, task.Notes)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	task.ID = id
	return nil
}

const taskColumns = `id, session_id, user_id, kind, tool_name, args, prompt,
	schedule, status, created_at, next_run, last_run, run_count, max_runs,
	last_error, notes`

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, filter ListFilter) ([]*Task, error) {
	filter = filter.Normalize()
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE user_id = ?`
	args := []any{userID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = ? AND next_run > 0 AND next_run <= ?
		ORDER BY next_run
	`, string(StatusPending), toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) Update(ctx context.Context, task *Task) error {
	sched, err := json.Marshal(task.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			status = ?, next_run = ?, last_run = ?, run_count = ?,
			max_runs = ?, last_error = ?, notes = ?, schedule = ?
		WHERE id = ?
	`, string(task.Status), toNanos(task.NextRun), toNanos(task.LastRun),
		task.RunCount, task.MaxRuns, task.LastError, task.Notes, string(sched), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStore) Cancel(ctx context.Context, id int64, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET status = ?, next_run = 0
		WHERE id = ? AND user_id = ? AND status = ?
	`, string(StatusCanceled), id, userID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                          Task
		kind, status, args, schedule  string
		createdAt, nextRun, lastRunNs int64
	)
	err := row.Scan(&task.ID, &task.SessionID, &task.UserID, &kind, &task.ToolName,
		&args, &task.Prompt, &schedule, &status, &createdAt, &nextRun, &lastRunNs,
		&task.RunCount, &task.MaxRuns, &task.LastError, &task.Notes)
	if err != nil {
		return nil, err
	}
	task.Kind = TaskKind(kind)
	task.Status = TaskStatus(status)
	if args != "" {
		task.Args = json.RawMessage(args)
	}
	if err := json.Unmarshal([]byte(schedule), &task.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	task.CreatedAt = fromNanos(createdAt)
	task.NextRun = fromNanos(nextRun)
	task.LastRun = fromNanos(lastRunNs)
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
