package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scribeflow/scribeflow/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements core.Store using SQLite. A single write mutex
// serializes read-modify-write updates; combined with the single-process
// deployment model this gives the compare-and-set semantics the session
// state machine relies on without cross-client fencing.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

var _ core.Store = (*SQLiteStore)(nil)

// NewSQLite creates a SQLite-backed store at dbPath, creating the parent
// directory and schema as needed.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better read concurrency alongside the single writer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		curr_agent_name TEXT NOT NULL,
		curr_session_id TEXT NOT NULL,
		curr_thread_id TEXT NOT NULL,
		root_thread_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL,
		active_task_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		parent_user_message_id TEXT NOT NULL DEFAULT '',
		parts_json TEXT NOT NULL,
		finish_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		seq INTEGER,
		PRIMARY KEY (session_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(session_id, thread_id, seq);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		input_json TEXT NOT NULL,
		output_json TEXT,
		error_code TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, created_at);

	CREATE TABLE IF NOT EXISTS idempotency_index (
		project_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		task_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, name)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateProject inserts a new project record.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *core.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, phase, curr_agent_name, curr_session_id, curr_thread_id, root_thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Phase, p.CurrAgentName, p.CurrSessionID, p.CurrThreadID, p.RootThreadID,
		p.Created.UnixMilli(), p.Updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx, `
		SELECT id, phase, curr_agent_name, curr_session_id, curr_thread_id, root_thread_id, created_at, updated_at
		FROM projects WHERE id = ?`, id))
}

func (s *SQLiteStore) scanProject(row *sql.Row) (*core.Project, error) {
	var p core.Project
	var created, updated int64
	err := row.Scan(&p.ID, &p.Phase, &p.CurrAgentName, &p.CurrSessionID, &p.CurrThreadID, &p.RootThreadID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}
	p.Created = time.UnixMilli(created).UTC()
	p.Updated = time.UnixMilli(updated).UTC()
	return &p, nil
}

// UpdateProject performs a read-modify-write on a single project record under
// the write mutex.
func (s *SQLiteStore) UpdateProject(ctx context.Context, id string, mutate func(*core.Project) error) (*core.Project, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	p.Updated = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET phase = ?, curr_agent_name = ?, curr_session_id = ?, curr_thread_id = ?, updated_at = ?
		WHERE id = ?`,
		p.Phase, p.CurrAgentName, p.CurrSessionID, p.CurrThreadID, p.Updated.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *core.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, active_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.Status, sess.ActiveTaskID,
		sess.Created.UnixMilli(), sess.Updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var sess core.Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, active_task_id, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.ProjectID, &sess.Status, &sess.ActiveTaskID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.Created = time.UnixMilli(created).UTC()
	sess.Updated = time.UnixMilli(updated).UTC()
	return &sess, nil
}

// UpdateSession performs a read-modify-write on a single session record under
// the write mutex.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, mutate func(*core.Session) error) (*core.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	sess.Updated = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, active_task_id = ?, updated_at = ? WHERE id = ?`,
		sess.Status, sess.ActiveTaskID, sess.Updated.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

// SaveMessage upserts a message record, preserving the original sequence
// number on overwrite so listing order is stable while parts stream.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *core.Message) error {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	var completed any
	if !m.Completed.IsZero() {
		completed = m.Completed.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, id, thread_id, role, parent_user_message_id, parts_json, finish_reason, created_at, completed_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages))
		ON CONFLICT (session_id, id) DO UPDATE SET
			parts_json = excluded.parts_json,
			finish_reason = excluded.finish_reason,
			completed_at = excluded.completed_at`,
		m.SessionID, m.ID, m.ThreadID, m.Role, m.ParentUserMessageID, string(parts),
		m.FinishReason, m.Created.UnixMilli(), completed)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by (session_id, message_id).
func (s *SQLiteStore) GetMessage(ctx context.Context, sessionID, messageID string) (*core.Message, error) {
	rows, err := s.queryMessages(ctx, `
		SELECT session_id, id, thread_id, role, parent_user_message_id, parts_json, finish_reason, created_at, completed_at
		FROM messages WHERE session_id = ? AND id = ?`, sessionID, messageID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return rows[0], nil
}

// ListMessages returns all session messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*core.Message, error) {
	return s.queryMessages(ctx, `
		SELECT session_id, id, thread_id, role, parent_user_message_id, parts_json, finish_reason, created_at, completed_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
}

// ListThreadMessages returns the session messages on one thread in creation order.
func (s *SQLiteStore) ListThreadMessages(ctx context.Context, sessionID, threadID string) ([]*core.Message, error) {
	return s.queryMessages(ctx, `
		SELECT session_id, id, thread_id, role, parent_user_message_id, parts_json, finish_reason, created_at, completed_at
		FROM messages WHERE session_id = ? AND thread_id = ? ORDER BY seq`, sessionID, threadID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*core.Message
	for rows.Next() {
		var m core.Message
		var partsJSON string
		var created int64
		var completed sql.NullInt64
		if err := rows.Scan(&m.SessionID, &m.ID, &m.ThreadID, &m.Role, &m.ParentUserMessageID,
			&partsJSON, &m.FinishReason, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if err := json.Unmarshal([]byte(partsJSON), &m.Parts); err != nil {
			return nil, fmt.Errorf("unmarshal parts: %w", err)
		}
		m.Created = time.UnixMilli(created).UTC()
		if completed.Valid {
			m.Completed = time.UnixMilli(completed.Int64).UTC()
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *core.Task) error {
	var errCode, errMsg any
	if t.Error != nil {
		errCode, errMsg = t.Error.Code, t.Error.Message
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, session_id, type, status, source, idempotency_key, input_json, output_json, error_code, error_message, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.SessionID, t.Type, t.Status, t.Source, t.IdempotencyKey,
		string(t.Input), nullableJSON(t.Output), errCode, errMsg,
		t.Created.UnixMilli(), nullableTime(t.Started), nullableTime(t.Finished))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	tasks, err := s.queryTasks(ctx, taskSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, core.ErrNotFound
	}
	return tasks[0], nil
}

// UpdateTask performs a read-modify-write on a single task record under the
// write mutex.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, mutate func(*core.Task) error) (*core.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(t); err != nil {
		return nil, err
	}
	var errCode, errMsg any
	if t.Error != nil {
		errCode, errMsg = t.Error.Code, t.Error.Message
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, output_json = ?, error_code = ?, error_message = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		t.Status, nullableJSON(t.Output), errCode, errMsg,
		nullableTime(t.Started), nullableTime(t.Finished), id)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

const taskSelect = `
	SELECT id, project_id, session_id, type, status, source, idempotency_key, input_json, output_json, error_code, error_message, created_at, started_at, finished_at
	FROM tasks`

// ListTasksByStatus returns all tasks with the given status in creation order.
func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	return s.queryTasks(ctx, taskSelect+` WHERE status = ? ORDER BY created_at`, status)
}

// ListProjectTasks returns all tasks for a project in creation order.
func (s *SQLiteStore) ListProjectTasks(ctx context.Context, projectID string) ([]*core.Task, error) {
	return s.queryTasks(ctx, taskSelect+` WHERE project_id = ? ORDER BY created_at`, projectID)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*core.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*core.Task
	for rows.Next() {
		var t core.Task
		var input string
		var output, errCode, errMsg sql.NullString
		var created int64
		var started, finished sql.NullInt64
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.SessionID, &t.Type, &t.Status, &t.Source,
			&t.IdempotencyKey, &input, &output, &errCode, &errMsg, &created, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Input = json.RawMessage(input)
		if output.Valid {
			t.Output = json.RawMessage(output.String)
		}
		if errCode.Valid {
			t.Error = &core.TaskError{Code: errCode.String, Message: errMsg.String}
		}
		t.Created = time.UnixMilli(created).UTC()
		if started.Valid {
			t.Started = time.UnixMilli(started.Int64).UTC()
		}
		if finished.Valid {
			t.Finished = time.UnixMilli(finished.Int64).UTC()
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// PutIdempotencyKey records the index entry. The entry is written once and
// never mutated; re-inserting the same key is ignored (first write wins).
func (s *SQLiteStore) PutIdempotencyKey(ctx context.Context, projectID, key, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_index (project_id, idempotency_key, task_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, idempotency_key) DO NOTHING`,
		projectID, key, taskID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// GetIdempotencyKey looks up the task id for (project_id, key).
func (s *SQLiteStore) GetIdempotencyKey(ctx context.Context, projectID, key string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id FROM idempotency_index WHERE project_id = ? AND idempotency_key = ?`,
		projectID, key).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("scan idempotency row: %w", err)
	}
	return taskID, nil
}

// PutArtifact upserts a named blob for a project.
func (s *SQLiteStore) PutArtifact(ctx context.Context, projectID, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (project_id, name, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		projectID, name, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves a named blob for a project.
func (s *SQLiteStore) GetArtifact(ctx context.Context, projectID, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM artifacts WHERE project_id = ? AND name = ?`, projectID, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact row: %w", err)
	}
	return data, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
