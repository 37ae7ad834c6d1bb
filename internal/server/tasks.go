package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"teamsync/internal/models"
	"teamsync/internal/tasks"
)

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline"`
}

type assigneeRequest struct {
	UserID string `json:"user_id"`
}

type deadlineRequest struct {
	Deadline *time.Time `json:"deadline"`
}

type detailsRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type statusRequest struct {
	Status models.TaskStatus `json:"status"`
}

type deleteTaskRequest struct {
	TaskID string `json:"task_id"`
}

// handleCreateTask inserts a new task into an approved project.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	task, err := s.tasks.CreateTask(c.Request.Context(), id, tasks.CreateTaskInput{
		ProjectID:   c.Param("project_id"),
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"task": task})
}

// handleViewTasks fetches tasks for a project in creation order.
func (s *Server) handleViewTasks(c *gin.Context) {
	id, _ := caller(c)
	list, err := s.tasks.ViewTasksByProject(c.Request.Context(), id, c.Param("project_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": list})
}

// handleAddAssignee makes a project member responsible for the task.
func (s *Server) handleAddAssignee(c *gin.Context) {
	var req assigneeRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	task, err := s.tasks.AddAssignee(c.Request.Context(), id, tasks.AddAssigneeInput{
		TaskID: c.Param("task_id"),
		UserID: req.UserID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleUpdateDeadline moves the task deadline.
func (s *Server) handleUpdateDeadline(c *gin.Context) {
	var req deadlineRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	task, err := s.tasks.UpdateDeadline(c.Request.Context(), id, tasks.UpdateDeadlineInput{
		TaskID:   c.Param("task_id"),
		Deadline: req.Deadline,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleEditDetails replaces the supplied title and description.
func (s *Server) handleEditDetails(c *gin.Context) {
	var req detailsRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	task, err := s.tasks.EditTaskDetails(c.Request.Context(), id, tasks.EditDetailsInput{
		TaskID:      c.Param("task_id"),
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleUpdateStatus transitions the task status.
func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	task, err := s.tasks.UpdateStatus(c.Request.Context(), id, tasks.UpdateStatusInput{
		TaskID: c.Param("task_id"),
		Status: req.Status,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes a task; task_id comes from the query string or
// the JSON body.
func (s *Server) handleDeleteTask(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		var req deleteTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(c, bindError(err))
			return
		}
		taskID = req.TaskID
	}
	id, _ := caller(c)
	task, err := s.tasks.DeleteTask(c.Request.Context(), id, tasks.DeleteTaskInput{
		ProjectID: c.Param("project_id"),
		TaskID:    taskID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted", "task": task})
}

// handleCreatedTasks lists tasks created by the user.
func (s *Server) handleCreatedTasks(c *gin.Context) {
	id, _ := caller(c)
	list, err := s.tasks.GetTasksCreatedByUser(c.Request.Context(), id, c.Param("user_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": list})
}

// handleAssignedTasks lists tasks the user is assigned to.
func (s *Server) handleAssignedTasks(c *gin.Context) {
	id, _ := caller(c)
	list, err := s.tasks.GetTasksAssignedToUser(c.Request.Context(), id, c.Param("user_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": list})
}
