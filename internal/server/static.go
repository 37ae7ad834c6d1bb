package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"teamsync/internal/apperr"
)

// mountStatic serves the compiled frontend from the configured directory and
// installs the fallback for unknown routes. API paths always get the JSON
// error envelope; everything else falls back to index.html when present.
func (s *Server) mountStatic() {
	indexPath := s.frontendIndex()

	s.engine.NoRoute(func(c *gin.Context) {
		if indexPath == "" || isAPIPath(c.Request.URL.Path) {
			s.respondError(c, apperr.NotFound("endpoint"))
			return
		}
		c.File(indexPath)
	})

	if indexPath == "" {
		return
	}
	s.engine.GET("/", func(c *gin.Context) {
		c.File(indexPath)
	})

	assetsDir := filepath.Join(s.staticDir, "assets")
	if _, err := os.Stat(assetsDir); err == nil {
		s.engine.StaticFS("/assets", gin.Dir(assetsDir, false))
	}

	favicon := filepath.Join(s.staticDir, "favicon.ico")
	if _, err := os.Stat(favicon); err == nil {
		s.engine.StaticFile("/favicon.ico", favicon)
	}
}

// frontendIndex returns the path of index.html, or "" in API only mode.
func (s *Server) frontendIndex() string {
	if s.staticDir == "" {
		s.logger.Info("static directory not configured; API only mode")
		return ""
	}
	info, err := os.Stat(s.staticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory missing", "path", s.staticDir, "error", err)
		return ""
	}
	indexPath := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		s.logger.Warn("index.html not found", "path", indexPath, "error", err)
		return ""
	}
	return indexPath
}

func isAPIPath(path string) bool {
	for _, prefix := range apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
