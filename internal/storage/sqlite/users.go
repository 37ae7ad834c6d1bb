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

const userColumns = `id, name, email, password_hash, role, state, created_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.State, &u.CreatedAt)
	return u, err
}

// CreateUser persists a new account. Email addresses are unique.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Name == "" {
		return models.User{}, apperr.Validation("name", "must not be empty")
	}
	if u.Email == "" {
		return models.User{}, apperr.Validation("email", "must not be empty")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.State == "" {
		u.State = models.UserVerified
	}
	u.ID = newID()
	u.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.State, u.CreatedAt)
	if isUniqueViolation(err) {
		return models.User{}, apperr.Validation("email", "already registered")
	}
	if err != nil {
		return models.User{}, classify(fmt.Errorf("insert user: %w", err))
	}
	return u, nil
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return models.User{}, classify(fmt.Errorf("get user: %w", err))
	}
	return u, nil
}

// GetUserByEmail looks an account up by its login email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.NotFound("user")
	}
	if err != nil {
		return models.User{}, classify(fmt.Errorf("get user by email: %w", err))
	}
	return u, nil
}

// ListUsers returns every account ordered by signup time.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserState blocks or unblocks an account.
func (s *Store) SetUserState(ctx context.Context, id string, state models.UserState) (models.User, error) {
	if state != models.UserVerified && state != models.UserBlocked {
		return models.User{}, apperr.Validation("state", "must be verified or blocked")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return models.User{}, classify(fmt.Errorf("update user state: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.User{}, err
	}
	if affected == 0 {
		return models.User{}, apperr.NotFound("user")
	}
	return s.GetUser(ctx, id)
}

// SetUserRole promotes or demotes an account.
func (s *Store) SetUserRole(ctx context.Context, id string, role models.Role) (models.User, error) {
	if role != models.RoleUser && role != models.RoleAdmin {
		return models.User{}, apperr.Validation("role", "must be user or admin")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return models.User{}, classify(fmt.Errorf("update user role: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.User{}, err
	}
	if affected == 0 {
		return models.User{}, apperr.NotFound("user")
	}
	return s.GetUser(ctx, id)
}
