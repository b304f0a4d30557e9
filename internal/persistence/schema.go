package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cowork_sessions (
		id TEXT PRIMARY KEY,
		goal TEXT NOT NULL,
		state TEXT NOT NULL,
		roster TEXT NOT NULL,
		workspace_root TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cowork_tasks (
		session_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		assignee TEXT NOT NULL,
		state TEXT NOT NULL,
		resource_mode TEXT NOT NULL,
		questions TEXT NOT NULL,
		user_answers TEXT NOT NULL,
		output_text TEXT NOT NULL,
		error TEXT,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER,
		finished_at_ms INTEGER,
		PRIMARY KEY (session_id, id),
		FOREIGN KEY (session_id) REFERENCES cowork_sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_cowork_tasks_session_position
		ON cowork_tasks(session_id, position);

	CREATE TABLE IF NOT EXISTS cowork_task_dependencies (
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		PRIMARY KEY (session_id, task_id, depends_on_id),
		FOREIGN KEY (session_id, task_id) REFERENCES cowork_tasks(session_id, id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
