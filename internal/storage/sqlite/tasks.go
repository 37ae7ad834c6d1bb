package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

const taskColumns = `t.id, t.project_id, t.title, t.description, t.creator_id, t.deadline, t.status, t.version, t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }) (models.Task, error) {
	var (
		t        models.Task
		deadline sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.CreatorID, &deadline, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	t.Deadline = timePtr(deadline)
	return t, err
}

// InsertTask persists a new task in the todo state with no assignees.
func (s *Store) InsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	t.ID = newID()
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	t.Status = models.StatusTodo
	t.Version = 1
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt

	var created models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id, project_id, title, description, creator_id, deadline, status, version, created_at, updated_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.CreatorID, nullTime(t.Deadline), t.Status, t.Version, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return classify(fmt.Errorf("insert task: %w", err))
		}
		created, err = loadTask(ctx, tx, t.ID)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	return created, nil
}

// GetTask retrieves a task by id with its assignees.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	return loadTask(ctx, s.db, id)
}

func loadTask(ctx context.Context, q queryer, id string) (models.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, apperr.NotFound("task")
	}
	if err != nil {
		return models.Task{}, classify(fmt.Errorf("get task: %w", err))
	}
	tasks := []models.Task{t}
	if err := attachAssignees(ctx, q, tasks); err != nil {
		return models.Task{}, err
	}
	return tasks[0], nil
}

// ListTasksByProject returns the project's tasks in creation order.
func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]models.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.project_id = ? ORDER BY t.created_at, t.rowid`, projectID)
}

// ListTasksByCreator returns the tasks userID created, oldest first.
func (s *Store) ListTasksByCreator(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.creator_id = ? ORDER BY t.created_at, t.rowid`, userID)
}

// ListTasksByAssignee returns the tasks userID is assigned to, oldest first.
func (s *Store) ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks t
        JOIN task_assignees a ON a.task_id = t.id
        WHERE a.user_id = ? ORDER BY t.created_at, t.rowid`, userID)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list tasks: %w", err))
	}
	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(err)
	}
	rows.Close()

	if err := attachAssignees(ctx, s.db, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// attachAssignees fills AssigneeIDs for every task in one query, keeping
// assignment order.
func attachAssignees(ctx context.Context, q queryer, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := make(map[string]int, len(tasks))
	args := make([]any, 0, len(tasks))
	for i := range tasks {
		tasks[i].AssigneeIDs = []string{}
		index[tasks[i].ID] = i
		args = append(args, tasks[i].ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tasks)), ", ")

	rows, err := q.QueryContext(ctx, `SELECT task_id, user_id FROM task_assignees
        WHERE task_id IN (`+placeholders+`) ORDER BY assigned_at, rowid`, args...)
	if err != nil {
		return classify(fmt.Errorf("list assignees: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, userID string
		if err := rows.Scan(&taskID, &userID); err != nil {
			return fmt.Errorf("scan assignee: %w", err)
		}
		i := index[taskID]
		tasks[i].AssigneeIDs = append(tasks[i].AssigneeIDs, userID)
	}
	return classify(rows.Err())
}

// UpdateTask writes title, description, deadline and status of t, provided
// the stored version still equals t.Version. The returned task is read
// inside the transaction, so a successful return always means committed.
func (s *Store) UpdateTask(ctx context.Context, t models.Task) (models.Task, error) {
	var updated models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, deadline = ?, status = ?,
            version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			t.Title, t.Description, nullTime(t.Deadline), t.Status, s.now(), t.ID, t.Version)
		if err != nil {
			return classify(fmt.Errorf("update task: %w", err))
		}
		if err := expectOneRow(ctx, tx, res, t.ID); err != nil {
			return err
		}
		updated, err = loadTask(ctx, tx, t.ID)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

// AddAssignee appends userID to the task's assignees and bumps its version.
func (s *Store) AddAssignee(ctx context.Context, taskID, userID string, version int64) (models.Task, error) {
	var updated models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?`, now, taskID, version)
		if err != nil {
			return classify(fmt.Errorf("bump task version: %w", err))
		}
		if err := expectOneRow(ctx, tx, res, taskID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO task_assignees(task_id, user_id, assigned_at) VALUES(?, ?, ?)`, taskID, userID, now)
		if isUniqueViolation(err) {
			return apperr.Validation("user_id", "user is already an assignee")
		}
		if err != nil {
			return classify(fmt.Errorf("insert assignee: %w", err))
		}
		updated, err = loadTask(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

// DeleteTask removes a task of the given project when its version matches.
func (s *Store) DeleteTask(ctx context.Context, projectID, taskID string, version int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND project_id = ? AND version = ?`, taskID, projectID, version)
		if err != nil {
			return classify(fmt.Errorf("delete task: %w", err))
		}
		return expectOneRow(ctx, tx, res, taskID)
	})
}

// expectOneRow distinguishes a vanished task from a stale version when a
// guarded write touched nothing.
func expectOneRow(ctx context.Context, q queryer, res sql.Result, taskID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&n); err != nil {
		return classify(fmt.Errorf("check task: %w", err))
	}
	if n == 0 {
		return apperr.NotFound("task")
	}
	return apperr.Conflict("task was modified concurrently, reload and retry")
}
