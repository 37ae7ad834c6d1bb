package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

// Inputs carry json tags so validation errors name the fields callers sent.

// CreateTaskInput is the payload of CreateTask.
type CreateTaskInput struct {
	ProjectID   string     `json:"project_id" validate:"required,uuid"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Deadline    *time.Time `json:"deadline"`
}

// AddAssigneeInput is the payload of AddAssignee.
type AddAssigneeInput struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
	UserID string `json:"user_id" validate:"required,uuid"`
}

// UpdateDeadlineInput is the payload of UpdateDeadline.
type UpdateDeadlineInput struct {
	TaskID   string     `json:"task_id" validate:"required,uuid"`
	Deadline *time.Time `json:"deadline" validate:"required"`
}

// EditDetailsInput is the payload of EditTaskDetails. Nil fields are left as is.
type EditDetailsInput struct {
	TaskID      string  `json:"task_id" validate:"required,uuid"`
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
}

// UpdateStatusInput is the payload of UpdateStatus.
type UpdateStatusInput struct {
	TaskID string            `json:"task_id" validate:"required,uuid"`
	Status models.TaskStatus `json:"status" validate:"required,oneof=todo in_progress done"`
}

// DeleteTaskInput is the payload of DeleteTask.
type DeleteTaskInput struct {
	ProjectID string `json:"project_id" validate:"required,uuid"`
	TaskID    string `json:"task_id" validate:"required,uuid"`
}

// normalize trims free text so length limits apply to what gets stored.
func (in *CreateTaskInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
}

func (in *EditDetailsInput) normalize() {
	in.Title = trimmedPtr(in.Title)
	in.Description = trimmedPtr(in.Description)
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

type projectRef struct {
	ProjectID string `json:"project_id" validate:"required,uuid"`
}

type userRef struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// checkSchema runs the struct tags and reports the first failing field.
func (e *Engine) checkSchema(in any) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Internal(err)
	}
	fe := fieldErrs[0]
	return apperr.Validation(fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid identifier"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func checkTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apperr.Validation("title", "must not be empty")
	}
	return nil
}

func checkDeadline(deadline, now time.Time) error {
	if deadline.Before(now) {
		return apperr.Validation("deadline", "must not be in the past")
	}
	return nil
}

func checkProjectAcceptsTasks(p models.Project) error {
	if p.Archived() {
		return apperr.Validation("project_id", "project is archived")
	}
	if !p.Approved() {
		return apperr.Validation("project_id", "project is not approved")
	}
	return nil
}

func checkProjectWritable(p models.Project) error {
	if p.Archived() {
		return apperr.Validation("project_id", "project is archived and read-only")
	}
	return nil
}

func checkTaskOpen(t models.Task) error {
	if t.IsDone() {
		return apperr.Validation("status", "task is done, move it back to in_progress before editing")
	}
	return nil
}

func checkTransition(from, to models.TaskStatus) error {
	if !from.CanTransition(to) {
		return apperr.Validation("status", fmt.Sprintf("illegal transition from %s to %s", from, to))
	}
	return nil
}

func checkAssignee(t models.Task, target models.User, isMember bool) error {
	if target.IsBlocked() {
		return apperr.Validation("user_id", "user is blocked")
	}
	if !isMember {
		return apperr.Validation("user_id", "user is not a member of the task's project")
	}
	if t.HasAssignee(target.ID) {
		return apperr.Validation("user_id", "user is already an assignee")
	}
	return nil
}
