package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/cowork/internal/scheduler"
)

// deleteTasks removes a session's tasks and dependency rows.
// Dependencies are deleted explicitly so the result does not depend on the
// foreign_keys pragma.
func deleteTasks(ctx context.Context, tx *sql.Tx, sessionID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cowork_task_dependencies WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cowork_tasks WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}
	return nil
}

// replaceTasks rewrites a session's task graph inside tx.
func replaceTasks(ctx context.Context, tx *sql.Tx, sessionID string, tasks []scheduler.Task) error {
	if err := deleteTasks(ctx, tx, sessionID); err != nil {
		return err
	}

	for pos, task := range tasks {
		questions, err := encodeList(task.Questions)
		if err != nil {
			return fmt.Errorf("failed to encode questions of task %s: %w", task.ID, err)
		}
		answers, err := encodeList(task.UserAnswers)
		if err != nil {
			return fmt.Errorf("failed to encode answers of task %s: %w", task.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cowork_tasks (
				session_id, id, position, title, description, assignee, state, resource_mode,
				questions, user_answers, output_text, error,
				created_at_ms, updated_at_ms, started_at_ms, finished_at_ms
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, task.ID, pos, task.Title, task.Description, task.Assignee, string(task.State), string(task.ResourceMode),
			questions, answers, task.OutputText, nullString(task.Error),
			task.CreatedAt, task.UpdatedAt, nullInt(task.StartedAt), nullInt(task.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}

	// Dependencies go in after every task so forward references resolve.
	for _, task := range tasks {
		for ordinal, depID := range task.Deps {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cowork_task_dependencies (session_id, task_id, depends_on_id, ordinal)
				VALUES (?, ?, ?, ?)
			`, sessionID, task.ID, depID, ordinal)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
	}
	return nil
}

// loadTasks returns a session's tasks ordered by position, with dependencies.
func (s *SQLiteStore) loadTasks(ctx context.Context, sessionID string) ([]scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, assignee, state, resource_mode,
			questions, user_answers, output_text, error,
			created_at_ms, updated_at_ms, started_at_ms, finished_at_ms
		FROM cowork_tasks
		WHERE session_id = ?
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []scheduler.Task{}
	for rows.Next() {
		var (
			task                scheduler.Task
			state, mode         string
			questions, answers  string
			errText             sql.NullString
			startedAt, finished sql.NullInt64
		)
		err := rows.Scan(&task.ID, &task.Title, &task.Description, &task.Assignee, &state, &mode,
			&questions, &answers, &task.OutputText, &errText,
			&task.CreatedAt, &task.UpdatedAt, &startedAt, &finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.State = scheduler.TaskState(state)
		task.ResourceMode = scheduler.ResourceMode(mode)
		if task.Questions, err = decodeList(questions); err != nil {
			return nil, fmt.Errorf("failed to decode questions of task %s: %w", task.ID, err)
		}
		if task.UserAnswers, err = decodeList(answers); err != nil {
			return nil, fmt.Errorf("failed to decode answers of task %s: %w", task.ID, err)
		}
		if errText.Valid {
			task.SetError(errText.String)
		}
		if startedAt.Valid {
			v := startedAt.Int64
			task.StartedAt = &v
		}
		if finished.Valid {
			v := finished.Int64
			task.FinishedAt = &v
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	deps, err := s.loadDependencies(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Deps = deps[tasks[i].ID]
		if tasks[i].Deps == nil {
			tasks[i].Deps = []string{}
		}
	}
	return tasks, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, sessionID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM cowork_task_dependencies
		WHERE session_id = ?
		ORDER BY task_id, ordinal
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	return string(data), err
}

func decodeList(data string) ([]string, error) {
	items := []string{}
	if data == "" {
		return items, nil
	}
	err := json.Unmarshal([]byte(data), &items)
	return items, err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
