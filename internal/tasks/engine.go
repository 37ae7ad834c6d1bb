// Package tasks implements the task lifecycle: creation inside approved
// projects, assignment, deadline and status changes, deletion and the
// per-user projections.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"teamsync/internal/apperr"
	"teamsync/internal/auth"
	"teamsync/internal/models"
)

// TaskRepository persists tasks. Writes are guarded by the task version.
type TaskRepository interface {
	InsertTask(ctx context.Context, t models.Task) (models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]models.Task, error)
	ListTasksByCreator(ctx context.Context, userID string) ([]models.Task, error)
	ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error)
	UpdateTask(ctx context.Context, t models.Task) (models.Task, error)
	AddAssignee(ctx context.Context, taskID, userID string, version int64) (models.Task, error)
	DeleteTask(ctx context.Context, projectID, taskID string, version int64) error
}

// ProjectRepository is the read side of projects the engine consults.
type ProjectRepository interface {
	GetProject(ctx context.Context, id string) (models.Project, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

// UserRepository is the read side of users the engine consults.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Options tune an Engine. Zero values pick defaults.
type Options struct {
	LookupTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

const defaultLookupTimeout = 3 * time.Second

// Engine runs task operations. It holds no task state between calls; every
// project and user fact is re-read per operation.
type Engine struct {
	tasks    TaskRepository
	projects ProjectRepository
	users    UserRepository
	locks    *taskLocks
	validate *validator.Validate
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New constructs an Engine over the given repositories.
func New(tasks TaskRepository, projects ProjectRepository, users UserRepository, opts Options) *Engine {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		tasks:    tasks,
		projects: projects,
		users:    users,
		locks:    newTaskLocks(),
		validate: newValidator(),
		logger:   opts.Logger,
		timeout:  opts.LookupTimeout,
		now:      opts.Now,
	}
}

// CreateTask adds a todo task with no assignees to an approved project.
func (e *Engine) CreateTask(ctx context.Context, caller auth.Identity, in CreateTaskInput) (models.Task, error) {
	if err := requireIdentity(caller); err != nil {
		return models.Task{}, err
	}
	in.normalize()
	if err := e.checkSchema(in); err != nil {
		return models.Task{}, err
	}
	if err := checkTitle(in.Title); err != nil {
		return models.Task{}, err
	}

	project, err := e.getProject(ctx, in.ProjectID)
	if err != nil {
		return models.Task{}, err
	}
	if err := checkProjectAcceptsTasks(project); err != nil {
		return models.Task{}, err
	}
	if in.Deadline != nil {
		if err := checkDeadline(*in.Deadline, e.now()); err != nil {
			return models.Task{}, err
		}
	}

	user, err := e.actingUser(ctx, caller)
	if err != nil {
		return models.Task{}, err
	}
	if !user.IsAdmin() {
		member, err := e.isMember(ctx, project.ID, user.ID)
		if err != nil {
			return models.Task{}, err
		}
		if !member {
			return models.Task{}, apperr.Forbidden("only project members can create tasks")
		}
	}

	lctx, cancel := e.bounded(ctx)
	defer cancel()
	task, err := e.tasks.InsertTask(lctx, models.Task{
		ProjectID:   project.ID,
		Title:       in.Title,
		Description: in.Description,
		CreatorID:   user.ID,
		Deadline:    in.Deadline,
	})
	if err != nil {
		return models.Task{}, e.fail(err)
	}
	e.logger.Info("task created", slog.String("task_id", task.ID), slog.String("project_id", project.ID), slog.String("creator_id", user.ID))
	return task, nil
}

// ViewTasksByProject lists a project's tasks in creation order.
func (e *Engine) ViewTasksByProject(ctx context.Context, caller auth.Identity, projectID string) ([]models.Task, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if err := e.checkSchema(projectRef{ProjectID: projectID}); err != nil {
		return nil, err
	}
	if _, err := e.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	tasks, err := e.tasks.ListTasksByProject(lctx, projectID)
	if err != nil {
		return nil, e.fail(err)
	}
	return tasks, nil
}

// AddAssignee makes a project member responsible for the task. Adding the
// same user twice is rejected rather than merged.
func (e *Engine) AddAssignee(ctx context.Context, caller auth.Identity, in AddAssigneeInput) (models.Task, error) {
	return e.mutate(ctx, caller, in.TaskID, in, func(ctx context.Context, task models.Task, project models.Project) (models.Task, error) {
		if err := checkTaskOpen(task); err != nil {
			return models.Task{}, err
		}
		target, err := e.getUser(ctx, in.UserID)
		if err != nil {
			return models.Task{}, err
		}
		member, err := e.isMember(ctx, project.ID, target.ID)
		if err != nil {
			return models.Task{}, err
		}
		if err := checkAssignee(task, target, member); err != nil {
			return models.Task{}, err
		}

		lctx, cancel := e.bounded(ctx)
		defer cancel()
		updated, err := e.tasks.AddAssignee(lctx, task.ID, target.ID, task.Version)
		if err != nil {
			return models.Task{}, err
		}
		e.logger.Info("assignee added", slog.String("task_id", task.ID), slog.String("user_id", target.ID))
		return updated, nil
	})
}

// UpdateDeadline replaces the deadline of an open task.
func (e *Engine) UpdateDeadline(ctx context.Context, caller auth.Identity, in UpdateDeadlineInput) (models.Task, error) {
	return e.mutate(ctx, caller, in.TaskID, in, func(ctx context.Context, task models.Task, _ models.Project) (models.Task, error) {
		if err := checkDeadline(*in.Deadline, e.now()); err != nil {
			return models.Task{}, err
		}
		if err := checkTaskOpen(task); err != nil {
			return models.Task{}, err
		}
		deadline := in.Deadline.UTC()
		task.Deadline = &deadline
		return e.commit(ctx, task, "deadline updated")
	})
}

// EditTaskDetails replaces the supplied title and/or description of an
// open task.
func (e *Engine) EditTaskDetails(ctx context.Context, caller auth.Identity, in EditDetailsInput) (models.Task, error) {
	in.normalize()
	return e.mutate(ctx, caller, in.TaskID, in, func(ctx context.Context, task models.Task, _ models.Project) (models.Task, error) {
		if in.Title == nil && in.Description == nil {
			return models.Task{}, apperr.Validation("title", "title or description must be supplied")
		}
		if in.Title != nil {
			if err := checkTitle(*in.Title); err != nil {
				return models.Task{}, err
			}
		}
		if err := checkTaskOpen(task); err != nil {
			return models.Task{}, err
		}
		if in.Title != nil {
			task.Title = *in.Title
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		return e.commit(ctx, task, "details edited")
	})
}

// UpdateStatus moves the task along the status state machine.
func (e *Engine) UpdateStatus(ctx context.Context, caller auth.Identity, in UpdateStatusInput) (models.Task, error) {
	return e.mutate(ctx, caller, in.TaskID, in, func(ctx context.Context, task models.Task, _ models.Project) (models.Task, error) {
		if err := checkTransition(task.Status, in.Status); err != nil {
			return models.Task{}, err
		}
		from := task.Status
		task.Status = in.Status
		updated, err := e.commit(ctx, task, "status updated")
		if err != nil {
			return models.Task{}, err
		}
		e.logger.Debug("status transition", slog.String("task_id", task.ID), slog.String("from", string(from)), slog.String("to", string(in.Status)))
		return updated, nil
	})
}

// DeleteTask removes a task from its project. Only the task creator or an
// admin may delete.
func (e *Engine) DeleteTask(ctx context.Context, caller auth.Identity, in DeleteTaskInput) (models.Task, error) {
	if err := requireIdentity(caller); err != nil {
		return models.Task{}, err
	}
	if err := e.checkSchema(in); err != nil {
		return models.Task{}, err
	}

	unlock, err := e.locks.acquire(ctx, in.TaskID)
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	project, err := e.getProject(ctx, in.ProjectID)
	if err != nil {
		return models.Task{}, err
	}
	task, err := e.getTask(ctx, in.TaskID)
	if err != nil {
		return models.Task{}, err
	}
	if task.ProjectID != project.ID {
		return models.Task{}, apperr.NotFound("task")
	}
	user, err := e.actingUser(ctx, caller)
	if err != nil {
		return models.Task{}, err
	}
	if !capabilitiesOf(user, task).Any(deleters) {
		return models.Task{}, apperr.Forbidden("only the task creator or an admin can delete a task")
	}
	if err := checkProjectWritable(project); err != nil {
		return models.Task{}, err
	}

	lctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.tasks.DeleteTask(lctx, project.ID, task.ID, task.Version); err != nil {
		return models.Task{}, e.fail(err)
	}
	e.logger.Info("task deleted", slog.String("task_id", task.ID), slog.String("project_id", project.ID), slog.String("by", user.ID))
	return task, nil
}

// GetTasksCreatedByUser lists tasks whose creator is userID.
func (e *Engine) GetTasksCreatedByUser(ctx context.Context, caller auth.Identity, userID string) ([]models.Task, error) {
	return e.userProjection(ctx, caller, userID, e.tasks.ListTasksByCreator)
}

// GetTasksAssignedToUser lists tasks that have userID among their assignees.
func (e *Engine) GetTasksAssignedToUser(ctx context.Context, caller auth.Identity, userID string) ([]models.Task, error) {
	return e.userProjection(ctx, caller, userID, e.tasks.ListTasksByAssignee)
}

func (e *Engine) userProjection(ctx context.Context, caller auth.Identity, userID string, list func(context.Context, string) ([]models.Task, error)) ([]models.Task, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if err := e.checkSchema(userRef{UserID: userID}); err != nil {
		return nil, err
	}
	if _, err := e.getUser(ctx, userID); err != nil {
		return nil, err
	}
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	tasks, err := list(lctx, userID)
	if err != nil {
		return nil, e.fail(err)
	}
	return tasks, nil
}

type mutation func(ctx context.Context, task models.Task, project models.Project) (models.Task, error)

// mutate is the shared path of every task mutation: schema, per-task lock,
// acting user, task and project reload, capability and archive checks, then
// the operation itself.
func (e *Engine) mutate(ctx context.Context, caller auth.Identity, taskID string, in any, fn mutation) (models.Task, error) {
	if err := requireIdentity(caller); err != nil {
		return models.Task{}, err
	}
	if err := e.checkSchema(in); err != nil {
		return models.Task{}, err
	}

	unlock, err := e.locks.acquire(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()

	user, err := e.actingUser(ctx, caller)
	if err != nil {
		return models.Task{}, err
	}
	task, err := e.getTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if !capabilitiesOf(user, task).Any(mutators) {
		return models.Task{}, apperr.Forbidden("only the task creator, an assignee or an admin can modify this task")
	}
	project, err := e.getProject(ctx, task.ProjectID)
	if err != nil {
		return models.Task{}, err
	}
	if err := checkProjectWritable(project); err != nil {
		return models.Task{}, err
	}

	updated, err := fn(ctx, task, project)
	if err != nil {
		return models.Task{}, e.fail(err)
	}
	return updated, nil
}

func (e *Engine) commit(ctx context.Context, task models.Task, msg string) (models.Task, error) {
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	updated, err := e.tasks.UpdateTask(lctx, task)
	if err != nil {
		return models.Task{}, err
	}
	e.logger.Info(msg, slog.String("task_id", task.ID), slog.Int64("version", updated.Version))
	return updated, nil
}

// actingUser reloads the caller and rejects blocked accounts.
func (e *Engine) actingUser(ctx context.Context, caller auth.Identity) (models.User, error) {
	user, err := e.getUser(ctx, caller.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return models.User{}, apperr.Unauthorized("caller no longer exists")
		}
		return models.User{}, err
	}
	if user.IsBlocked() {
		return models.User{}, apperr.Forbidden("blocked users cannot modify tasks")
	}
	return user, nil
}

func (e *Engine) getTask(ctx context.Context, id string) (models.Task, error) {
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	t, err := e.tasks.GetTask(lctx, id)
	return t, e.fail(err)
}

func (e *Engine) getProject(ctx context.Context, id string) (models.Project, error) {
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	p, err := e.projects.GetProject(lctx, id)
	return p, e.fail(err)
}

func (e *Engine) getUser(ctx context.Context, id string) (models.User, error) {
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	u, err := e.users.GetUser(lctx, id)
	return u, e.fail(err)
}

func (e *Engine) isMember(ctx context.Context, projectID, userID string) (bool, error) {
	lctx, cancel := e.bounded(ctx)
	defer cancel()
	ok, err := e.projects.IsMember(lctx, projectID, userID)
	return ok, e.fail(err)
}

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// fail normalizes repository errors: typed errors pass through, timeouts
// become retryable, anything else is internal.
func (e *Engine) fail(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Internal(err)
}

func requireIdentity(caller auth.Identity) error {
	if caller.UserID == "" {
		return apperr.Unauthorized("a resolved caller is required")
	}
	return nil
}
