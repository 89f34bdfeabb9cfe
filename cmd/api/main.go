// @title KYC verification API
// @version 1.0
// @description Accepts identity documents, tracks verification jobs and pushes status updates.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"kyc-worker-service/internal/app"
	"kyc-worker-service/internal/auth"
	"kyc-worker-service/internal/config"
	"kyc-worker-service/internal/logger"
	"kyc-worker-service/internal/realtime"
	"kyc-worker-service/internal/repository/postgresql"
	"kyc-worker-service/internal/service"
	httptransport "kyc-worker-service/internal/transport/http"
	"kyc-worker-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "kyc-api",
		Usage: "KYC submission gateway, status API and realtime channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("KYC_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
			&cli.BoolFlag{
				Name:  "embedded-worker",
				Usage: "Run the pipeline worker pool inside this process",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			migrateCmd(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := cmd.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if cmd.Bool("embedded-worker") {
		cfg.Worker.Embedded = true
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (KYC_AUTH_JWT_SECRET)")
	}

	deps, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := postgresql.Migrate(ctx, deps.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var (
		queue    service.Queue
		producer service.JobQueue
	)
	if cfg.Worker.Embedded {
		queue, err = deps.Queue()
		producer = queue
	} else {
		producer, err = deps.Producer()
	}
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, verifier, cfg.Realtime.Origins)
	notifier := realtime.NewNotifier(registry, hub)

	jobSvc := service.NewJobService(deps.Repo, producer, deps.Images, cfg.Uploads.MaxFileBytes)
	h := httptransport.NewHandler(jobSvc, cfg.Uploads.MaxFileBytes)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httptransport.Routes(h, verifier, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Redis != nil {
		relay := realtime.NewRelay(deps.Redis, cfg.Realtime.Channel, notifier)
		g.Go(func() error { return relay.Run(gctx) })
	}

	if cfg.Worker.Embedded {
		pool := worker.NewPool(queue, deps.Processor(notifier), cfg.Worker.Count)
		reaper := deps.Reaper(queue)
		log.Info().Int("workers", cfg.Worker.Count).Str("queue_backend", cfg.Queue.Backend).Msg("embedded worker started")
		g.Go(func() error {
			pool.Run(gctx)
			return nil
		})
		g.Go(func() error {
			reaper.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("api stopped")
	return err
}

func migrateCmd() *cli.Command {
	withDeps := func(fn func(ctx context.Context, deps *app.Deps) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// migrations only need postgres
			cfg.Redis.URL = ""
			deps, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()
			return fn(ctx, deps)
		}
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: withDeps(func(ctx context.Context, deps *app.Deps) error {
					return postgresql.Migrate(ctx, deps.DB)
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Action: withDeps(func(ctx context.Context, deps *app.Deps) error {
					return postgresql.MigrateDown(ctx, deps.DB)
				}),
			},
		},
	}
}
