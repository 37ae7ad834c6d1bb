package models

import (
	"slices"
	"time"
)

// Role names a user's standing in the system.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserState is toggled by administrators.
type UserState string

const (
	UserVerified UserState = "verified"
	UserBlocked  UserState = "blocked"
)

// User is an account that can own projects and work on tasks.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	State        UserState `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsBlocked reports whether the user is barred from acting on tasks.
func (u User) IsBlocked() bool {
	return u.State == UserBlocked
}

// IsAdmin reports whether the user holds the administrative role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ProjectStatus tracks the approval workflow of a project.
type ProjectStatus string

const (
	ProjectPending  ProjectStatus = "pending"
	ProjectApproved ProjectStatus = "approved"
	ProjectArchived ProjectStatus = "archived"
)

// Project groups tasks and the users allowed to work on them.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	CreatorID   string        `json:"creator_id"`
	IsApproved  bool          `json:"is_approved"`
	Status      ProjectStatus `json:"status"`
	Deadline    *time.Time    `json:"deadline"`
	MemberIDs   []string      `json:"member_ids"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Approved reports whether tasks may be created under the project.
func (p Project) Approved() bool {
	return p.IsApproved && p.Status != ProjectPending
}

// Archived reports whether the project and its tasks are read-only.
func (p Project) Archived() bool {
	return p.Status == ProjectArchived
}

// HasMember reports whether userID is listed among the project members.
func (p Project) HasMember(userID string) bool {
	return slices.Contains(p.MemberIDs, userID)
}

// TaskStatus is a task lifecycle stage.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// ValidTaskStatuses enumerates the statuses supported by the board columns.
var ValidTaskStatuses = map[TaskStatus]struct{}{
	StatusTodo:       {},
	StatusInProgress: {},
	StatusDone:       {},
}

// Valid reports whether s is one of the enumerated statuses.
func (s TaskStatus) Valid() bool {
	_, ok := ValidTaskStatuses[s]
	return ok
}

// CanTransition checks if moving from s to next is allowed.
// Allowed: todo->in_progress, in_progress->done, in_progress->todo, done->in_progress.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusTodo:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusDone || next == StatusTodo
	case StatusDone:
		return next == StatusInProgress
	default:
		return false
	}
}

// Task represents a single unit of work inside a project.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatorID   string     `json:"creator_id"`
	AssigneeIDs []string   `json:"assignee_ids"`
	Deadline    *time.Time `json:"deadline"`
	Status      TaskStatus `json:"status"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsDone reports whether the task is logically closed.
func (t Task) IsDone() bool {
	return t.Status == StatusDone
}

// HasAssignee reports whether userID is already responsible for the task.
func (t Task) HasAssignee(userID string) bool {
	return slices.Contains(t.AssigneeIDs, userID)
}

// ProjectReport summarizes task progress inside a project.
type ProjectReport struct {
	ProjectID string             `json:"project_id"`
	Total     int                `json:"total"`
	ByStatus  map[TaskStatus]int `json:"by_status"`
	Overdue   int                `json:"overdue"`
}
