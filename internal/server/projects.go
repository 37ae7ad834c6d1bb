package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

type projectRequest struct {
	Name        string     `json:"name" binding:"required,max=200"`
	Description string     `json:"description" binding:"max=5000"`
	Deadline    *time.Time `json:"deadline"`
}

type projectRefRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

type memberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// handleCreateProject creates a pending project owned by the caller.
func (s *Server) handleCreateProject(c *gin.Context) {
	var req projectRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	ctx, cancel := s.bounded(c)
	defer cancel()
	user, err := s.actingUser(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if req.Deadline != nil && req.Deadline.Before(s.now()) {
		s.respondError(c, apperr.Validation("deadline", "must not be in the past"))
		return
	}

	project, err := s.store.CreateProject(ctx, models.Project{
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   user.ID,
		Deadline:    req.Deadline,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("project created", "project_id", project.ID, "creator_id", user.ID)
	respondSuccess(c, http.StatusCreated, gin.H{"project": project})
}

// handleGetProject returns a single project with its members.
func (s *Server) handleGetProject(c *gin.Context) {
	ctx, cancel := s.bounded(c)
	defer cancel()
	project, err := s.store.GetProject(ctx, c.Param("project_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleProjectReport summarizes task progress for a project.
func (s *Server) handleProjectReport(c *gin.Context) {
	ctx, cancel := s.bounded(c)
	defer cancel()
	report, err := s.store.ProjectReport(ctx, c.Param("project_id"), s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"report": report})
}

// handleAddMember lets the project creator or an admin add a member.
func (s *Server) handleAddMember(c *gin.Context) {
	var req memberRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	ctx, cancel := s.bounded(c)
	defer cancel()

	project, err := s.store.GetProject(ctx, c.Param("project_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	user, err := s.actingUser(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if project.CreatorID != user.ID && !user.IsAdmin() {
		s.respondError(c, apperr.Forbidden("only the project creator or an admin can add members"))
		return
	}
	if project.Archived() {
		s.respondError(c, apperr.Validation("project_id", "project is archived and read-only"))
		return
	}
	target, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if target.IsBlocked() {
		s.respondError(c, apperr.Validation("user_id", "user is blocked"))
		return
	}

	project, err = s.store.AddMember(ctx, project.ID, target.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleListProjects returns every project for the admin dashboard.
func (s *Server) handleListProjects(c *gin.Context) {
	ctx, cancel := s.bounded(c)
	defer cancel()
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"projects": projects})
}

// handleApproveProject opens a pending project for tasks.
func (s *Server) handleApproveProject(c *gin.Context) {
	var req projectRefRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	ctx, cancel := s.bounded(c)
	defer cancel()
	project, err := s.store.ApproveProject(ctx, req.ProjectID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("project approved", "project_id", project.ID)
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleArchiveProject freezes an approved project and its tasks.
func (s *Server) handleArchiveProject(c *gin.Context) {
	var req projectRefRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	ctx, cancel := s.bounded(c)
	defer cancel()
	project, err := s.store.ArchiveProject(ctx, req.ProjectID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("project archived", "project_id", project.ID)
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}
