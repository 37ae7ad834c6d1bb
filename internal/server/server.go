package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"teamsync/internal/apperr"
	"teamsync/internal/auth"
	"teamsync/internal/models"
	"teamsync/internal/tasks"
)

// Store is the user and project repository behind the non-task routes.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserState(ctx context.Context, id string, state models.UserState) (models.User, error)

	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	AddMember(ctx context.Context, projectID, userID string) (models.Project, error)
	ApproveProject(ctx context.Context, id string) (models.Project, error)
	ArchiveProject(ctx context.Context, id string) (models.Project, error)
	ProjectReport(ctx context.Context, id string, now time.Time) (models.ProjectReport, error)
}

const defaultLookupTimeout = 3 * time.Second

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Store     Store
	Engine    *tasks.Engine
	Guard     *auth.Guard
	Tokens    *auth.TokenManager
	Hasher    *auth.PasswordHasher
	Logger    *slog.Logger
	StaticDir string
	Now       func() time.Time

	// LookupTimeout bounds the repository calls a handler makes directly.
	LookupTimeout time.Duration
}

// Server provides HTTP handlers for the TeamSync backend.
type Server struct {
	engine        *gin.Engine
	store         Store
	tasks         *tasks.Engine
	guard         *auth.Guard
	tokens        *auth.TokenManager
	hasher        *auth.PasswordHasher
	logger        *slog.Logger
	staticDir     string
	now           func() time.Time
	lookupTimeout time.Duration
}

// apiPrefixes are the route groups that answer with JSON, never the frontend.
var apiPrefixes = []string{"/task/", "/project/", "/user/", "/admin/", "/healthz"}

// New constructs the HTTP server with routes and middleware configured.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LookupTimeout <= 0 {
		d.LookupTimeout = defaultLookupTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	useJSONFieldNames()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/healthz"))

	srv := &Server{
		engine:        router,
		store:         d.Store,
		tasks:         d.Engine,
		guard:         d.Guard,
		tokens:        d.Tokens,
		hasher:        d.Hasher,
		logger:        d.Logger,
		staticDir:     d.StaticDir,
		now:           d.Now,
		lookupTimeout: d.LookupTimeout,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	users := s.engine.Group("/user")
	{
		users.POST("/signup", s.handleSignup)
		users.POST("/login", s.handleLogin)
		users.GET("/me", s.authenticate(), s.handleMe)
	}

	projects := s.engine.Group("/project", s.authenticate())
	{
		projects.POST("/create", s.handleCreateProject)
		projects.GET("/report/:project_id", s.handleProjectReport)
		projects.GET("/:project_id", s.handleGetProject)
		projects.POST("/:project_id/add-member", s.handleAddMember)
	}

	task := s.engine.Group("/task", s.authenticate())
	{
		task.POST("/project/:project_id/create-task", s.handleCreateTask)
		task.GET("/project/:project_id/view-tasks", s.handleViewTasks)
		task.DELETE("/project/:project_id/delete-task", s.handleDeleteTask)
		task.POST("/:task_id/add-assignee", s.handleAddAssignee)
		task.PUT("/:task_id/update-deadline", s.handleUpdateDeadline)
		task.PUT("/:task_id/edit-details", s.handleEditDetails)
		task.PUT("/:task_id/update-status", s.handleUpdateStatus)
		task.GET("/user/:user_id/created-tasks", s.handleCreatedTasks)
		task.GET("/user/:user_id/assigned-tasks", s.handleAssignedTasks)
	}

	admin := s.engine.Group("/admin", s.authenticate(), s.requireAdmin())
	{
		admin.GET("/all-users", s.handleListUsers)
		admin.PUT("/user-state", s.handleToggleUserState)
		admin.GET("/all-projects", s.handleListProjects)
		admin.POST("/approve-project", s.handleApproveProject)
		admin.POST("/archive-project", s.handleArchiveProject)
	}

	s.mountStatic()
}

// bounded derives the context for a handler's repository calls. They share
// one lookup deadline.
func (s *Server) bounded(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.lookupTimeout)
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := s.bounded(c)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.respondError(c, apperr.Unavailable(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bindJSON decodes the body into dst and reports schema failures as
// validation errors naming the offending field.
func bindJSON(c *gin.Context, dst any) error {
	return bindError(c.ShouldBindJSON(dst))
}

func bindError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return apperr.Validation("body", "request body is required")
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.Validation(fe.Field(), "failed "+fe.Tag()+" check")
	}
	return apperr.Validation("body", "malformed JSON: "+err.Error())
}

// useJSONFieldNames makes gin's binding errors name fields as clients send them.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// respondError logs the error and returns the error envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := gin.H{"error": string(kind)}
	var appErr *apperr.Error
	switch {
	case kind == apperr.KindInternal:
		body["message"] = "internal error"
	case errors.As(err, &appErr):
		body["message"] = appErr.Message
		if appErr.Field != "" {
			body["field"] = appErr.Field
		}
	default:
		body["message"] = "dependency unavailable, retry later"
	}
	if kind == apperr.KindUnavailable {
		c.Header("Retry-After", "1")
	}

	attrs := []any{slog.String("path", c.FullPath()), slog.String("kind", string(kind)), slog.String("error", err.Error())}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request rejected", attrs...)
	}
	c.AbortWithStatusJSON(status, body)
}

// respondSuccess writes the payload as JSON.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
