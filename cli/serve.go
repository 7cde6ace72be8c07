package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban/board"
	"github.com/CrowderSoup/kanban/config"
	"github.com/CrowderSoup/kanban/database"
	"github.com/CrowderSoup/kanban/handlers"
	"github.com/CrowderSoup/kanban/services"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.InsecureSecret() {
		logger.Warn("JWT_SECRET is not set, using the built-in default")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// app is the fully wired server.
type app struct {
	handler http.Handler
	store   *database.Store
	hub     *services.Hub
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	store, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{store: store, closers: []func() error{store.Close}}

	var boards board.Store = store
	if cfg.RedisURL != "" {
		client := redis.NewClient(redisOptions(cfg.RedisURL))
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		boards = database.NewCache(store, client, cfg.CacheTTL)
		logger.WithField("ttl", cfg.CacheTTL).Info("Board cache enabled")
	}

	if cfg.SeedFile != "" {
		snaps, err := loadSeed(cfg.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		n, err := seedBoards(ctx, boards, snaps, false)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.WithField("boards", n).Info("Seed data loaded")
	}

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(ctx)
	a.hub = services.NewHub(logger)
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()
	a.closers = append(a.closers, func() error {
		stopHub()
		<-hubDone
		return nil
	})

	authService := services.NewAuthService(store, cfg.JWTSecret, cfg.TokenTTL)
	boardService := board.NewService(boards, a.hub, logger).WithDirectory(store)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	checkOrigin := func(r *http.Request) bool {
		return r.Header.Get("Origin") == "" || c.OriginAllowed(r)
	}

	router := handlers.NewRouter(
		handlers.NewAuthHandler(authService, logger),
		handlers.NewBoardHandler(boardService, a.hub, logger, checkOrigin),
		handlers.NewAuthMiddleware(authService),
		logger,
		cfg.StaticDir,
	)
	a.handler = c.Handler(router)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// redisOptions accepts redis:// URLs and the "host:port,password=...,ssl=True"
// connection strings issued by managed Redis services.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
