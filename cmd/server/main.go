// SafeCoach - safety-gated mental health coaching chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/safecoach/internal/agent"
	"github.com/ashureev/safecoach/internal/api"
	"github.com/ashureev/safecoach/internal/config"
	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/email"
	"github.com/ashureev/safecoach/internal/grpchealth"
	"github.com/ashureev/safecoach/internal/identity"
	"github.com/ashureev/safecoach/internal/llm"
	"github.com/ashureev/safecoach/internal/mcp"
	"github.com/ashureev/safecoach/internal/middleware"
	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/session"
	"github.com/ashureev/safecoach/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	toolTimeout       = 30 * time.Second
	dependencyCheck   = 15 * time.Second
	verdictCacheItems = 10000
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "safecoach",
		Short:        "Safety-gated mental health coaching chat server",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP, WebSocket and gRPC health servers",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newClassifyCmd(),
		newRulesCmd(),
		newHealthcheckCmd(),
	)
	root.PersistentPreRun = func(*cobra.Command, []string) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
	}
	return root
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func loadMatcher(path string) (*safety.Matcher, error) {
	rs, err := safety.LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	return safety.NewMatcher(rs)
}

func newEmailSender(cfg config.EmailConfig, logger *slog.Logger) (email.Sender, error) {
	if cfg.Provider == "resend" {
		return email.NewResendSender(cfg.ResendAPIKey, cfg.From)
	}
	return email.NewLogSender(logger), nil
}

func ruleCounts(m *safety.Matcher) map[string]int {
	out := make(map[string]int)
	for list, n := range m.Counts() {
		out[string(list)] = n
	}
	return out
}

//nolint:gocyclo,funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	matcher, err := loadMatcher(cfg.RulesPath)
	if err != nil {
		slog.Error("Failed to load safety rules", "path", cfg.RulesPath, "error", err)
		return err
	}
	slog.Info("Safety rules loaded", "version", matcher.Version(), "counts", ruleCounts(matcher))

	llmClient, err := llm.New(ctx, llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey(),
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize model provider", "provider", cfg.LLM.Provider, "error", err)
		return err
	}

	var (
		fallback safety.Fallback
		gen      agent.Generator
	)
	if llmClient.Enabled() {
		gen = llmClient
		if cfg.LLM.FallbackEnabled {
			verdicts, err := safety.NewVerdictCache(verdictCacheItems, cfg.LLM.FallbackCache)
			if err != nil {
				slog.Error("Failed to initialize verdict cache", "error", err)
				return err
			}
			defer verdicts.Close()
			fallback = safety.NewModelFallback(llmClient, cfg.LLM.FallbackTimeout, verdicts, logger)
		}
	}
	slog.Info("Model provider ready", "provider", llmClient.Provider(), "fallback_classifier", fallback != nil)

	classifier := safety.NewClassifier(matcher, fallback, logger)
	gate := safety.NewGate(classifier, repo, logger)

	sender, err := newEmailSender(cfg.Email, logger)
	if err != nil {
		slog.Error("Failed to initialize email sender", "provider", cfg.Email.Provider, "error", err)
		return err
	}

	sessions, err := session.NewStore(session.Options{
		MaxSessions: cfg.Session.MaxSessions,
		HistorySize: domain.HistoryLimit,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		return err
	}

	svc := agent.NewService(gate, sessions, logger,
		agent.NewCoach(gen, safety.NewOutputFilter(classifier), logger),
		agent.NewTherapistSearch(mcp.NewClient(cfg.MCPBaseURL, toolTimeout), logger),
		agent.NewBooking(agent.BookingOptions{
			Sender:  sender,
			Outbox:  repo,
			MaxSent: cfg.Email.MaxPerDay,
			Logger:  logger,
		}),
	)

	limiter := agent.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	identityOpts := identity.Options{CookieName: cfg.Session.CookieName, Secure: !cfg.IsDevelopment()}
	chatHandler := agent.NewHandler(svc, limiter, agent.HandlerOptions{
		MaxRequestBody: cfg.MaxRequestBody,
		Identity:       identityOpts,
		AllowedOrigin:  cfg.FrontendURL,
		DevMode:        cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo, api.HealthInfo{
		Provider:      llmClient.Provider(),
		EmailSender:   sender.Name(),
		RulesVersion:  func() int { return classifier.Matcher().Version() },
		RuleCounts:    func() map[string]int { return ruleCounts(classifier.Matcher()) },
		ActiveSession: sessions.Len,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))

	healthHandler.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(identityOpts))
		chatHandler.RegisterRoutes(r)
	})

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var watcher *safety.RulesWatcher
	if cfg.RulesWatch && cfg.RulesPath != "" {
		watcher, err = safety.NewRulesWatcher(cfg.RulesPath, classifier, logger)
		if err != nil {
			slog.Error("Failed to create rules watcher", "error", err)
			return err
		}
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if watcher != nil {
		if err := watcher.Start(gctx); err != nil {
			slog.Error("Failed to start rules watcher", "error", err)
			return err
		}
	}

	g.Go(func() error {
		<-session.StartSweeper(gctx, sessions, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
		return nil
	})
	g.Go(func() error {
		<-store.StartPruneWorker(gctx, repo, 0, cfg.AuditRetention)
		return nil
	})

	grpcSrv, hs := grpchealth.NewServer()
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCPort, "error", err)
			return err
		}
		g.Go(func() error {
			slog.Info("gRPC health server listening", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			grpchealth.WatchDependencies(gctx, hs, dependencyCheck, repo)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
