package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventhorizon/server/internal/api"
	"github.com/eventhorizon/server/internal/api/middleware"
	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/auth/oauth"
	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/users"
	hooks "github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/eventhorizon/server/internal/email"
	"github.com/eventhorizon/server/internal/filestore"
	"github.com/eventhorizon/server/internal/jobs"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/eventhorizon/server/internal/storage/postgres"
	"github.com/eventhorizon/server/internal/telemetry"
	"github.com/eventhorizon/server/internal/web"
	"github.com/eventhorizon/server/internal/webhooks"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const jwtIssuer = "eventhorizon"

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Event Horizon HTTP server",
	Long: `Start the Event Horizon HTTP server and background workers.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Serve the web pages, the JSON API and the OAuth2 token endpoint
- Run the job queue for webhook delivery and API key expiry
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug

  # Start with a config file
  server serve --config /etc/eventhorizon/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("env", cfg.Environment).Msg("starting Event Horizon server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(poolCtx, cfg.Database)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return err
	}

	dbCollector := metrics.NewDBCollector(pool)
	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	go dbCollector.Start(collectorCtx, 15*time.Second)
	defer collectorCancel()
	defer dbCollector.Stop()

	media, err := filestore.New(context.Background(), cfg.Storage, filestore.KindMedia)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}

	auditLogger := audit.NewLogger(os.Stdout)

	mailer, err := email.NewService(cfg.Email, cfg.Server.BaseURL, email.NewTransport(cfg.Email, logger), logger)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}

	usage := developers.NewUsageRecorder(repo.Developers(), logger)
	eventService := events.NewService(repo.Events(), logger)
	userService := users.NewService(repo.Users(), media, auditLogger, logger)
	hookService := hooks.NewService(repo.Webhooks(), eventService, auditLogger, logger)
	developerService := developers.NewService(repo.Developers(), usage, auditLogger, cfg.Auth.APIKeyTTL, logger)

	sender := webhooks.NewSender(webhooks.SenderConfig{
		Timeout:       cfg.Webhooks.Timeout,
		UserAgent:     cfg.Webhooks.UserAgent,
		SigningSecret: cfg.Webhooks.SigningSecret,
	}, logger)

	workers := jobs.NewWorkers(jobs.WorkerDeps{
		Sender:   sender,
		Keys:     developerService,
		Notifier: mailer,
		Logger:   logger,
	})
	riverClient, err := jobs.NewClient(pool, workers, cfg.Jobs.MaxWorkers, config.NewSlogLogger(cfg.Logging),
		[]rivertype.Hook{metrics.NewRiverHook()}, jobs.NewPeriodicJobs(cfg.Jobs.APIKeyExpiryInterval))
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}

	var (
		dispatcher webhooks.Dispatcher
		async      *webhooks.AsyncDispatcher
	)
	if cfg.Webhooks.Delivery == config.WebhookDeliveryQueue {
		dispatcher = jobs.NewQueueDispatcher(riverClient, logger)
	} else {
		async = webhooks.NewAsyncDispatcher(sender, logger)
		dispatcher = async
	}
	publisher := webhooks.NewPublisher(hookService, dispatcher, logger)

	registrationService := registrations.NewService(repo.Registrations(), eventService, mailer, publisher,
		auditLogger, cfg.Server.BaseURL, logger)

	sessions, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, jwtIssuer, auth.KindSession)
	if err != nil {
		return fmt.Errorf("session tokens: %w", err)
	}
	access, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, jwtIssuer, auth.KindAccess)
	if err != nil {
		return fmt.Errorf("access tokens: %w", err)
	}

	github := oauth.NewGitHubClient(oauth.GitHubConfig{
		ClientID:     cfg.OAuth.GitHubClientID,
		ClientSecret: cfg.OAuth.GitHubClientSecret,
		CallbackURL:  githubCallbackURL(cfg),
	})

	site, err := web.New(web.Deps{
		Events:        eventService,
		Registrations: registrationService,
		Webhooks:      hookService,
		Users:         userService,
		Developers:    developerService,
		GitHub:        github,
		Sessions:      sessions,
		BaseURL:       cfg.Server.BaseURL,
		CSRFKey:       []byte(cfg.Auth.CSRFKey),
		SecureCookies: cfg.Auth.SecureCookies,
		Env:           cfg.Environment,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	// Local URLs are <base>/<kind>/<name>.
	var files http.Handler
	if local, ok := media.(*filestore.LocalBackend); ok {
		files = http.StripPrefix("/"+string(filestore.KindMedia), http.FileServer(http.Dir(local.Dir())))
	}

	router := api.NewRouter(api.Deps{
		Config:       cfg,
		Logger:       logger,
		Build:        api.BuildInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate},
		DB:           pool,
		QueueEnabled: true,
		Authenticator: &middleware.Authenticator{
			Sessions: sessions,
			Access:   access,
			Keys:     developerService,
			Users:    userService,
		},
		Access:        access,
		Events:        eventService,
		Registrations: registrationService,
		Webhooks:      hookService,
		Users:         userService,
		UserList:      userService,
		Developers:    developerService,
		Clients:       developerService,
		Passwords:     userService,
		Web:           site,
		Files:         files,
	})
	defer router.Close()

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Str("webhook_delivery", cfg.Webhooks.Delivery).Msg("river workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		} else {
			logger.Info().Msg("river workers stopped")
		}
	}()

	usage.Start()
	defer func() {
		if err := usage.Close(); err != nil {
			logger.Error().Err(err).Msg("usage recorder shutdown error")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	err = gracefulShutdown(server, logger)
	if async != nil {
		// In-flight deliveries finish before the pool closes.
		async.Wait()
	}
	return err
}

// loadConfig reads --config when given, otherwise the environment, and
// applies the global logging flags.
func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func githubCallbackURL(cfg config.Config) string {
	if cfg.OAuth.GitHubRedirectURL != "" {
		return cfg.OAuth.GitHubRedirectURL
	}
	return cfg.Server.BaseURL + "/accounts/github/callback/"
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
