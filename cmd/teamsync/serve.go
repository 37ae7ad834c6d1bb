package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"teamsync/internal/apperr"
	"teamsync/internal/auth"
	"teamsync/internal/config"
	"teamsync/internal/models"
	"teamsync/internal/server"
	"teamsync/internal/storage/sqlite"
	"teamsync/internal/tasks"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAddr   string
	serveDB     string
	serveStatic string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Opens the SQLite database, applies migrations, ensures the bootstrap
admin account and serves the API until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "path to sqlite database file")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "directory with built frontend")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = serveAddr
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = serveDB
	}
	if cmd.Flags().Changed("static") {
		cfg.StaticDir = serveStatic
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err := ensureAdmin(ctx, store, hasher, cfg.BootstrapAdmin); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: cfg.Auth.JWTSecret,
		TTL:       cfg.Auth.TokenTTL,
		Issuer:    cfg.Auth.Issuer,
	})
	srv := server.New(server.Deps{
		Store: store,
		Engine: tasks.New(store, store, store, tasks.Options{
			LookupTimeout: cfg.Engine.LookupTimeout,
			Logger:        logger,
		}),
		Guard:         auth.NewGuard(tokens, store, cfg.Engine.LookupTimeout),
		Tokens:        tokens,
		Hasher:        hasher,
		Logger:        logger,
		StaticDir:     cfg.StaticDir,
		LookupTimeout: cfg.Engine.LookupTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

type adminStore interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	SetUserRole(ctx context.Context, id string, role models.Role) (models.User, error)
}

// ensureAdmin creates the configured admin account, or promotes it when the
// email already belongs to a regular user. Existing passwords are kept.
func ensureAdmin(ctx context.Context, store adminStore, hasher *auth.PasswordHasher, admin config.BootstrapAdmin) error {
	if admin.Email == "" {
		return nil
	}

	user, err := store.GetUserByEmail(ctx, admin.Email)
	switch {
	case err == nil:
		if user.IsAdmin() {
			return nil
		}
		if _, err := store.SetUserRole(ctx, user.ID, models.RoleAdmin); err != nil {
			return err
		}
		logger.Info("promoted bootstrap admin", slog.String("email", user.Email))
		return nil
	case !apperr.Is(err, apperr.KindNotFound):
		return err
	}

	hash, err := hasher.Hash(admin.Password)
	if err != nil {
		return err
	}
	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	user, err = store.CreateUser(ctx, models.User{
		Name:         name,
		Email:        admin.Email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return err
	}
	logger.Info("created bootstrap admin", slog.String("email", user.Email))
	return nil
}
