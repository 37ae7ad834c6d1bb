package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"teamsync/internal/apperr"
	"teamsync/internal/auth"
	"teamsync/internal/models"
)

type signupRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userStateRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// handleSignup registers a verified account with the user role.
func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.respondError(c, apperr.Internal(err))
		return
	}
	ctx, cancel := s.bounded(c)
	defer cancel()
	user, err := s.store.CreateUser(ctx, models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"user": user})
}

// handleLogin exchanges credentials for an access token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	ctx, cancel := s.bounded(c)
	defer cancel()
	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		s.respondError(c, err)
		return
	}
	if err != nil || user.PasswordHash == "" || !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.respondError(c, apperr.Unauthorized("invalid email or password"))
		return
	}
	if user.IsBlocked() {
		s.respondError(c, apperr.Forbidden("account is blocked"))
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.respondError(c, apperr.Internal(err))
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": s.tokens.TTL(),
		"user":       user,
	})
}

// handleMe returns the authenticated account.
func (s *Server) handleMe(c *gin.Context) {
	id, _ := caller(c)
	ctx, cancel := s.bounded(c)
	defer cancel()
	user, err := s.store.GetUser(ctx, id.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}

// handleListUsers returns every account for the admin dashboard.
func (s *Server) handleListUsers(c *gin.Context) {
	ctx, cancel := s.bounded(c)
	defer cancel()
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"users": users})
}

// handleToggleUserState flips a user between verified and blocked.
func (s *Server) handleToggleUserState(c *gin.Context) {
	var req userStateRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	id, _ := caller(c)
	if req.UserID == id.UserID {
		s.respondError(c, apperr.Validation("user_id", "admins cannot change their own state"))
		return
	}
	ctx, cancel := s.bounded(c)
	defer cancel()
	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	next := models.UserBlocked
	if user.IsBlocked() {
		next = models.UserVerified
	}
	user, err = s.store.SetUserState(ctx, user.ID, next)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("user state changed", "user_id", user.ID, "state", string(user.State), "by", id.UserID)
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}

// actingUser reloads the caller and rejects blocked accounts.
func (s *Server) actingUser(ctx context.Context, id auth.Identity) (models.User, error) {
	user, err := s.store.GetUser(ctx, id.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return models.User{}, apperr.Unauthorized("caller no longer exists")
		}
		return models.User{}, err
	}
	if user.IsBlocked() {
		return models.User{}, apperr.Forbidden("blocked users cannot perform this action")
	}
	return user, nil
}
