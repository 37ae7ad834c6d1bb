package server

import (
	"github.com/gin-gonic/gin"

	"teamsync/internal/apperr"
	"teamsync/internal/auth"
)

// authenticate resolves the bearer token and stores the caller on the
// request context. Unresolvable callers get 401.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.guard.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// requireAdmin rejects callers without the admin role. It must run after
// authenticate.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := caller(c)
		if !ok {
			s.respondError(c, apperr.Unauthorized("authentication required"))
			return
		}
		if !id.IsAdmin() {
			s.respondError(c, apperr.Forbidden("admin role required"))
			return
		}
		c.Next()
	}
}

// caller returns the identity resolved by authenticate.
func caller(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.CurrentUser(c.Request.Context())
	return id, err == nil
}
