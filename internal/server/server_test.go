package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"teamsync/internal/auth"
	"teamsync/internal/models"
	"teamsync/internal/storage/sqlite"
	"teamsync/internal/tasks"
)

type harness struct {
	t          *testing.T
	srv        *Server
	store      *sqlite.Store
	adminToken string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, 2*time.Second, func(s *sqlite.Store) Store { return s })
}

// newHarnessWithStore lets a test decorate the store the handlers see.
func newHarnessWithStore(t *testing.T, timeout time.Duration, wrap func(*sqlite.Store) Store) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	tokens := auth.NewTokenManager(auth.TokenConfig{SecretKey: "test-secret", TTL: time.Hour, Issuer: "teamsync-test"})
	srv := New(Deps{
		Store:         wrap(store),
		Engine:        tasks.New(store, store, store, tasks.Options{LookupTimeout: timeout, Logger: logger}),
		Guard:         auth.NewGuard(tokens, store, timeout),
		Tokens:        tokens,
		Hasher:        hasher,
		Logger:        logger,
		LookupTimeout: timeout,
	})

	hash, err := hasher.Hash("admin-password")
	require.NoError(t, err)
	_, err = store.CreateUser(context.Background(), models.User{
		Name: "Root", Email: "root@example.com", PasswordHash: hash, Role: models.RoleAdmin,
	})
	require.NoError(t, err)

	h := &harness{t: t, srv: srv, store: store}
	h.adminToken = h.login("root@example.com", "admin-password")
	return h
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func (h *harness) signup(name, email string) models.User {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/user/signup", "", jsonBody{"name": name, "email": email, "password": "correct-horse"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		User models.User `json:"user"`
	}](h.t, rec).User
}

func (h *harness) login(email, password string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/user/login", "", jsonBody{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		Token string `json:"token"`
	}](h.t, rec).Token
}

// approvedProject creates a project owned by token's user and approves it.
func (h *harness) approvedProject(token, name string) models.Project {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/project/create", token, jsonBody{"name": name})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[struct {
		Project models.Project `json:"project"`
	}](h.t, rec).Project

	rec = h.do(http.MethodPost, "/admin/approve-project", h.adminToken, jsonBody{"project_id": p.ID})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		Project models.Project `json:"project"`
	}](h.t, rec).Project
}

type jsonBody = map[string]any

type taskBody struct {
	Task models.Task `json:"task"`
}

type taskListBody struct {
	Tasks []models.Task `json:"tasks"`
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		method, path, token string
	}{
		{http.MethodGet, "/task/user/abc/created-tasks", ""},
		{http.MethodPost, "/project/create", ""},
		{http.MethodGet, "/user/me", "not-a-jwt"},
		{http.MethodGet, "/admin/all-users", ""},
	} {
		rec := h.do(tc.method, tc.path, tc.token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Error, tc.path)
	}
}

func TestSignupAndLogin(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("Alice", "Alice@Example.com")
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.Equal(t, models.RoleUser, alice.Role)

	rec := h.do(http.MethodPost, "/user/signup", "", jsonBody{"name": "Again", "email": "alice@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "email", decode[errorBody](t, rec).Field)

	rec = h.do(http.MethodPost, "/user/signup", "", jsonBody{"name": "Short", "email": "short@example.com", "password": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "password", decode[errorBody](t, rec).Field)

	rec = h.do(http.MethodPost, "/user/login", "", jsonBody{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodPost, "/user/login", "", jsonBody{"email": "nobody@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := h.login("alice@example.com", "correct-horse")
	rec = h.do(http.MethodGet, "/user/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[struct {
		User models.User `json:"user"`
	}](t, rec).User
	assert.Equal(t, alice.ID, me.ID)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.signup("Alice", "alice@example.com")
	bob := h.signup("Bob", "bob@example.com")
	alice := h.login("alice@example.com", "correct-horse")
	bobToken := h.login("bob@example.com", "correct-horse")

	project := h.approvedProject(alice, "Apollo")
	rec := h.do(http.MethodPost, "/project/"+project.ID+"/add-member", alice, jsonBody{"user_id": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	deadline := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	rec = h.do(http.MethodPost, "/task/project/"+project.ID+"/create-task", alice, jsonBody{
		"title": "Write launch plan", "description": "first draft", "deadline": deadline,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[taskBody](t, rec).Task
	assert.Equal(t, models.StatusTodo, task.Status)
	assert.Equal(t, int64(1), task.Version)

	rec = h.do(http.MethodPost, "/task/"+task.ID+"/add-assignee", alice, jsonBody{"user_id": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{bob.ID}, decode[taskBody](t, rec).Task.AssigneeIDs)

	for _, status := range []models.TaskStatus{models.StatusInProgress, models.StatusDone} {
		rec = h.do(http.MethodPut, "/task/"+task.ID+"/update-status", bobToken, jsonBody{"status": status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, status, decode[taskBody](t, rec).Task.Status)
	}

	rec = h.do(http.MethodPut, "/task/"+task.ID+"/edit-details", alice, jsonBody{"title": "Too late"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "status", decode[errorBody](t, rec).Field)

	rec = h.do(http.MethodPut, "/task/"+task.ID+"/update-status", bobToken, jsonBody{"status": "todo"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodGet, "/task/user/"+bob.ID+"/assigned-tasks", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assigned := decode[taskListBody](t, rec).Tasks
	require.Len(t, assigned, 1)
	assert.Equal(t, task.ID, assigned[0].ID)

	rec = h.do(http.MethodGet, "/project/report/"+project.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[struct {
		Report models.ProjectReport `json:"report"`
	}](t, rec).Report
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.ByStatus[models.StatusDone])

	rec = h.do(http.MethodDelete, "/task/project/"+project.ID+"/delete-task?task_id="+task.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodDelete, "/task/project/"+project.ID+"/delete-task", alice, jsonBody{"task_id": task.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/task/project/"+project.ID+"/view-tasks", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[taskListBody](t, rec).Tasks)
}

func TestCreateTaskNeedsApprovedProject(t *testing.T) {
	h := newHarness(t)
	h.signup("Alice", "alice@example.com")
	alice := h.login("alice@example.com", "correct-horse")

	rec := h.do(http.MethodPost, "/project/create", alice, jsonBody{"name": "Pending"})
	require.Equal(t, http.StatusCreated, rec.Code)
	project := decode[struct {
		Project models.Project `json:"project"`
	}](t, rec).Project
	assert.Equal(t, models.ProjectPending, project.Status)

	for _, token := range []string{alice, h.adminToken} {
		rec = h.do(http.MethodPost, "/task/project/"+project.ID+"/create-task", token, jsonBody{"title": "Early"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "validation_error", body.Error)
		assert.Equal(t, "project_id", body.Field)
	}
}

func TestArchivedProjectIsReadOnly(t *testing.T) {
	h := newHarness(t)
	h.signup("Alice", "alice@example.com")
	alice := h.login("alice@example.com", "correct-horse")
	project := h.approvedProject(alice, "Apollo")

	rec := h.do(http.MethodPost, "/task/project/"+project.ID+"/create-task", alice, jsonBody{"title": "Keep"})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decode[taskBody](t, rec).Task

	rec = h.do(http.MethodPost, "/admin/archive-project", h.adminToken, jsonBody{"project_id": project.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPut, "/task/"+task.ID+"/update-status", alice, jsonBody{"status": "in_progress"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = h.do(http.MethodGet, "/task/project/"+project.ID+"/view-tasks", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	bob := h.signup("Bob", "bob@example.com")
	bobToken := h.login("bob@example.com", "correct-horse")

	rec := h.do(http.MethodGet, "/admin/all-users", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/admin/all-users", h.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[struct {
		Users []models.User `json:"users"`
	}](t, rec).Users
	assert.Len(t, users, 2)

	rec = h.do(http.MethodPut, "/admin/user-state", h.adminToken, jsonBody{"user_id": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"blocked"`)

	rec = h.do(http.MethodPost, "/user/login", "", jsonBody{"email": "bob@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/project/create", bobToken, jsonBody{"name": "Blocked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	me, err := h.store.GetUserByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	rec = h.do(http.MethodPut, "/admin/user-state", h.adminToken, jsonBody{"user_id": me.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUnknownAPIRoute(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/task/nope", h.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error)
}

// stalledProjects hangs on project reads until the caller gives up.
type stalledProjects struct {
	*sqlite.Store
}

func (stalledProjects) GetProject(ctx context.Context, _ string) (models.Project, error) {
	<-ctx.Done()
	return models.Project{}, ctx.Err()
}

func TestHandlerLookupsAreBounded(t *testing.T) {
	h := newHarnessWithStore(t, 200*time.Millisecond, func(s *sqlite.Store) Store { return stalledProjects{s} })

	rec := h.do(http.MethodPost, "/project/create", h.adminToken, jsonBody{"name": "Slow"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[struct {
		Project models.Project `json:"project"`
	}](t, rec).Project

	start := time.Now()
	rec = h.do(http.MethodGet, "/project/"+project.ID, h.adminToken, nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "unavailable", decode[errorBody](t, rec).Error)
}
