package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	httpapp "filevault/internal/app/http"
	"filevault/internal/config"
	"filevault/internal/lib/cookie"
	"filevault/internal/lib/jwt"
	"filevault/internal/lib/password"
	"filevault/internal/services/auth"
	"filevault/internal/storage/memory"
	"filevault/internal/storage/mongodb"
	"filevault/internal/storage/postgres"
	"filevault/internal/storage/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
	DriverMemory   = "memory"
)

type App struct {
	HTTPSrv *httpapp.App
	closer  func(ctx context.Context) error
}

// Repository is what every storage backend provides.
type Repository interface {
	auth.UserSaver
	auth.UserProvider
	auth.SessionSaver
	auth.SessionProvider
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	repo, closer, err := NewRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokens := jwt.New(
		cfg.Tokens.AccessSecret,
		cfg.Tokens.RefreshSecret,
		cfg.Tokens.AccessTTL,
		cfg.Tokens.RefreshTTL,
	)
	hasher := password.NewHasher(cfg.BcryptCost)

	authService := auth.New(log, repo, repo, repo, repo, hasher, tokens)

	cookies := cookie.NewManager(cfg.Cookie, tokens.AccessTTL(), tokens.RefreshTTL())

	httpApp := httpapp.New(log, authService, tokens, cookies, httpapp.Options{
		Address:     cfg.HTTPServer.Address,
		Timeout:     cfg.HTTPServer.Timeout,
		IdleTimeout: cfg.HTTPServer.IdleTimeout,
	})

	return &App{
		HTTPSrv: httpApp,
		closer:  closer,
	}, nil
}

// NewRepository opens the backend named by cfg.Driver.
func NewRepository(ctx context.Context, cfg config.Storage) (Repository, func(context.Context) error, error) {
	const op = "app.NewRepository"

	switch cfg.Driver {
	case DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, func(context.Context) error { return s.Close() }, nil
	case DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, func(context.Context) error { return s.Close() }, nil
	case DriverMongoDB:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		s, err := mongodb.New(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, s.Close, nil
	case DriverMemory:
		s := memory.New()
		return s, func(context.Context) error { return s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
	}
}

// Close releases the storage backend.
func (a *App) Close(ctx context.Context) error {
	if a.closer == nil {
		return nil
	}
	return a.closer(ctx)
}
