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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bella/internal/api"
	"github.com/kalambet/bella/internal/config"
	"github.com/kalambet/bella/internal/extract"
	"github.com/kalambet/bella/internal/history"
	"github.com/kalambet/bella/internal/maintenance"
	"github.com/kalambet/bella/internal/metrics"
	"github.com/kalambet/bella/internal/pipeline"
	"github.com/kalambet/bella/internal/responder"
	"github.com/kalambet/bella/internal/speech"
	"github.com/kalambet/bella/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bella server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bella system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func loadRules(path string) (*extract.RuleSet, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()
	return extract.LoadRuleSet(f)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "bella version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Opening %s storage", cfg.Storage.Backend)
	backend, err := storage.Open(ctx, storage.Options{
		Kind:     cfg.Storage.Backend,
		DataDir:  cfg.Storage.DataDir,
		RedisURL: cfg.Storage.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	rules, err := loadRules(cfg.Memory.RulesFile)
	if err != nil {
		return err
	}

	m := metrics.New()
	eng := pipeline.NewEngine(backend, pipeline.Options{
		ConfidenceThreshold: cfg.Memory.ConfidenceThreshold,
		MaxContext:          cfg.Memory.MaxContext,
		History: history.Options{
			MaxEntries:         cfg.Memory.MaxHistory,
			OrdinaryRetention:  cfg.Memory.HistoryExpiry,
			ImportantRetention: cfg.Memory.ImportantExpiry,
		},
		Rules:   rules,
		Metrics: m,
		Logger:  logger,
	})
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("loading memory: %w", err)
	}

	var replier pipeline.Replier
	if cfg.Responder.APIKey != "" {
		client := responder.NewClient(cfg.Responder.APIKey, cfg.Responder.BaseURL, cfg.Responder.Model)
		replier = responder.New(client, logger)
		slog.Info("responder configured", "model", client.Model())
	} else {
		printWarning("BELLA_RESPONDER_API_KEY not set: /api/chat is disabled")
	}

	var synth api.Synthesizer
	if cfg.Speech.APIKey != "" {
		synth = speech.NewClient(cfg.Speech.APIKey, cfg.Speech.BaseURL, cfg.Speech.ModelID)
	}

	if cfg.Server.APIToken == "" {
		printWarning("BELLA_SERVER_API_TOKEN not set: /api routes are unauthenticated")
	}

	worker, err := maintenance.NewWorker(eng, maintenance.Options{
		RetentionSchedule: cfg.Maintenance.RetentionSchedule,
		BackupSchedule:    cfg.Maintenance.BackupSchedule,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	handler := api.NewAppHandler(api.AppDeps{
		Engine:  eng,
		Replier: replier,
		Speech:  synth,
		Metrics: m,
		Token:   cfg.Server.APIToken,
		MCP:     api.NewMCPServer(api.MCPDeps{Engine: eng, Version: version}),
		Logger:  logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "bella listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	// Persist anything still pending and leave a final backup behind.
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Flush(finalCtx); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	if _, err := eng.Backup(finalCtx); err != nil {
		slog.Error("final backup failed", "error", err)
	}
	return runErr
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	if cfg.Storage.Backend == "redis" {
		printStatus("Redis", "%s", cfg.Storage.RedisURL)
	} else {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}
	printStatus("Responder", "%s", configuredLabel(cfg.Responder.APIKey, cfg.Responder.Model))
	printStatus("Speech", "%s", configuredLabel(cfg.Speech.APIKey, cfg.Speech.BaseURL))

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if st, err := fetchStats(ctx, c); err == nil {
			printStatus("History", "%d turns", st.HistoryEntries)
			printStatus("Affinity", "%d%%", st.Affinity)
			printStatus("Backups", "%d", st.Storage.Backups)
		}
	}
	return nil
}

func configuredLabel(key, detail string) string {
	if key == "" {
		return "not configured"
	}
	return detail
}
