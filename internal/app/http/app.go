package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	authhandlers "filevault/internal/http-server/handlers/auth"
	"filevault/internal/http-server/middleware/gatekeeper"
	"filevault/internal/http-server/middleware/logger"
	"filevault/internal/lib/cookie"

	"github.com/gin-gonic/gin"
)

type App struct {
	log        *slog.Logger
	httpServer *http.Server
	handler    http.Handler
	address    string
}

type Options struct {
	Address     string
	Timeout     time.Duration
	IdleTimeout time.Duration
}

func New(
	log *slog.Logger,
	authService authhandlers.Auth,
	verifier gatekeeper.AccessVerifier,
	cookies *cookie.Manager,
	opts Options,
) *App {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.New(log))

	gate := gatekeeper.New(log, verifier, cookies)
	authhandlers.New(log, authService, cookies).Register(router.Group("/api"), gate)

	return &App{
		log:     log,
		handler: router,
		address: opts.Address,
		httpServer: &http.Server{
			Addr:         opts.Address,
			Handler:      router,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.log.With(
		slog.String("op", op),
		slog.String("address", a.address),
	)

	listener, err := net.Listen("tcp", a.address)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("http server is running", slog.String("address", listener.Addr().String()))

	if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop waits for in-flight requests until ctx is done.
func (a *App) Stop(ctx context.Context) error {
	const op = "httpapp.Stop"

	a.log.With(slog.String("op", op)).Info("stopping http server", slog.String("address", a.address))

	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
