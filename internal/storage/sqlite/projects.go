package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

const projectColumns = `id, name, description, creator_id, is_approved, status, deadline, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (models.Project, error) {
	var (
		p        models.Project
		deadline sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatorID, &p.IsApproved, &p.Status, &deadline, &p.CreatedAt, &p.UpdatedAt)
	p.Deadline = timePtr(deadline)
	return p, err
}

// CreateProject persists a pending project and records its creator as the
// first member.
func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return models.Project{}, apperr.Validation("name", "must not be empty")
	}
	p.ID = newID()
	p.Description = strings.TrimSpace(p.Description)
	p.IsApproved = false
	p.Status = models.ProjectPending
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.CreatorID, p.IsApproved, p.Status, nullTime(p.Deadline), p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return classify(fmt.Errorf("insert project: %w", err))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id, user_id, added_at) VALUES(?, ?, ?)`,
			p.ID, p.CreatorID, p.CreatedAt); err != nil {
			return classify(fmt.Errorf("insert creator membership: %w", err))
		}
		return nil
	})
	if err != nil {
		return models.Project{}, err
	}
	return s.GetProject(ctx, p.ID)
}

// GetProject fetches a single project by id, including its members.
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, apperr.NotFound("project")
	}
	if err != nil {
		return models.Project{}, classify(fmt.Errorf("get project: %w", err))
	}
	members, err := s.listMembers(ctx, s.db, id)
	if err != nil {
		return models.Project{}, err
	}
	p.MemberIDs = members
	return p, nil
}

// ListProjects retrieves all projects ordered by creation date.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list projects: %w", err))
	}
	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Members are loaded after the cursor is released; the pool holds one connection.
	for i := range projects {
		members, err := s.listMembers(ctx, s.db, projects[i].ID)
		if err != nil {
			return nil, err
		}
		projects[i].MemberIDs = members
	}
	return projects, nil
}

func (s *Store) listMembers(ctx context.Context, q queryer, projectID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM project_members WHERE project_id = ? ORDER BY added_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, classify(fmt.Errorf("list members: %w", err))
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// IsMember reports whether userID belongs to the project.
func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID).Scan(&n)
	if err != nil {
		return false, classify(fmt.Errorf("check membership: %w", err))
	}
	return n > 0, nil
}

// AddMember adds userID to the project. Adding an existing member is rejected.
func (s *Store) AddMember(ctx context.Context, projectID, userID string) (models.Project, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO project_members(project_id, user_id, added_at) VALUES(?, ?, ?)`, projectID, userID, s.now())
	if isUniqueViolation(err) {
		return models.Project{}, apperr.Validation("user_id", "user is already a project member")
	}
	if err != nil {
		return models.Project{}, classify(fmt.Errorf("add member: %w", err))
	}
	return s.GetProject(ctx, projectID)
}

// ApproveProject marks a pending project approved. Archived projects stay archived.
func (s *Store) ApproveProject(ctx context.Context, id string) (models.Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	if p.Archived() {
		return models.Project{}, apperr.Validation("project_id", "archived projects cannot be approved")
	}
	if p.Approved() {
		return p, nil
	}
	if err := s.setProjectStatus(ctx, id, true, models.ProjectApproved); err != nil {
		return models.Project{}, err
	}
	return s.GetProject(ctx, id)
}

// ArchiveProject makes an approved project read-only.
func (s *Store) ArchiveProject(ctx context.Context, id string) (models.Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	if !p.Approved() {
		return models.Project{}, apperr.Validation("project_id", "only approved projects can be archived")
	}
	if p.Archived() {
		return p, nil
	}
	if err := s.setProjectStatus(ctx, id, true, models.ProjectArchived); err != nil {
		return models.Project{}, err
	}
	return s.GetProject(ctx, id)
}

func (s *Store) setProjectStatus(ctx context.Context, id string, approved bool, status models.ProjectStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET is_approved = ?, status = ?, updated_at = ? WHERE id = ?`, approved, status, s.now(), id)
	if err != nil {
		return classify(fmt.Errorf("update project status: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("project")
	}
	return nil
}

// ProjectReport counts the project's tasks per status. Tasks past their
// deadline and not done count as overdue.
func (s *Store) ProjectReport(ctx context.Context, id string, now time.Time) (models.ProjectReport, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return models.ProjectReport{}, err
	}
	tasks, err := s.ListTasksByProject(ctx, id)
	if err != nil {
		return models.ProjectReport{}, err
	}
	report := models.ProjectReport{
		ProjectID: id,
		Total:     len(tasks),
		ByStatus: map[models.TaskStatus]int{
			models.StatusTodo:       0,
			models.StatusInProgress: 0,
			models.StatusDone:       0,
		},
	}
	for _, t := range tasks {
		report.ByStatus[t.Status]++
		if !t.IsDone() && t.Deadline != nil && t.Deadline.Before(now) {
			report.Overdue++
		}
	}
	return report, nil
}
