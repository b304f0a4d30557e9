package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/cowork/internal/scheduler"
)

// SaveSession writes a full session snapshot, replacing any previous one.
// Uses ON CONFLICT to upsert the session row; the task graph is rewritten.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess scheduler.Session) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	roster, err := json.Marshal(sess.Roster)
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cowork_sessions (id, goal, state, roster, workspace_root, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			state = excluded.state,
			roster = excluded.roster,
			workspace_root = excluded.workspace_root,
			updated_at_ms = excluded.updated_at_ms
	`, sess.ID, sess.Goal, string(sess.State), string(roster), sess.WorkspaceRoot, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if err := replaceTasks(ctx, tx, sess.ID, scheduler.OrderTasks(sess.Tasks, sess.TaskOrder)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadSessions returns every stored session, oldest first, with tasks in
// task order.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]scheduler.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal, state, roster, workspace_root, created_at_ms, updated_at_ms
		FROM cowork_sessions
		ORDER BY created_at_ms, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	sessions := []scheduler.Session{}
	for rows.Next() {
		var sess scheduler.Session
		var state, roster string
		if err := rows.Scan(&sess.ID, &sess.Goal, &state, &roster, &sess.WorkspaceRoot, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.State = scheduler.SessionState(state)
		if err := json.Unmarshal([]byte(roster), &sess.Roster); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode roster of session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	for i := range sessions {
		tasks, err := s.loadTasks(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Tasks = tasks
		sessions[i].TaskOrder = make([]string, len(tasks))
		for j, t := range tasks {
			sessions[i].TaskOrder[j] = t.ID
		}
	}
	return sessions, nil
}

// DeleteSession removes a session and its task graph.
// Returns a wrapped sql.ErrNoRows if the session does not exist.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteTasks(ctx, tx, sessionID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cowork_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", sessionID, sql.ErrNoRows)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
