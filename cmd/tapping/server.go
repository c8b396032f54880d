package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tapping/internal/api"
	"github.com/kalambet/tapping/internal/classify"
	"github.com/kalambet/tapping/internal/config"
	"github.com/kalambet/tapping/internal/directory"
	"github.com/kalambet/tapping/internal/gemini"
	"github.com/kalambet/tapping/internal/ingest"
	"github.com/kalambet/tapping/internal/ollama"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/tag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the image scan worker and the MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newCompleter builds the completion service for the configured backend.
// The ollama backend pulls the vision model when it is missing.
func newCompleter(ctx context.Context, cfg config.Config) (optical.Completer, error) {
	switch cfg.Optical.Backend {
	case config.BackendOllama:
		c := ollama.New(cfg.Ollama.BaseURL, ollama.WithRateLimit(cfg.Ollama.RequestsPerSecond))
		if err := ollama.EnsureReady(ctx, c, cfg.Optical.Model, os.Stderr); err != nil {
			return nil, err
		}
		return ollama.NewVisionCompleter(c, cfg.Optical.Model), nil
	case config.BackendGemini:
		return gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	return optical.NewDemoCompleter(nil), nil
}

// newExtractor wires the optical orchestrator. Simulated failures only
// apply to the simulated backend.
func newExtractor(ctx context.Context, cfg config.Config) (*optical.Orchestrator, error) {
	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing %s optical backend: %w", cfg.Optical.Backend, err)
	}
	opts := optical.Options{
		Delays:  optical.DefaultDelays.Scale(cfg.Optical.StageDelayScale),
		Timeout: cfg.OpticalTimeout(),
	}
	if cfg.Optical.Backend == config.BackendSimulated {
		opts.FailureRate = cfg.Optical.FailureRate
	}
	return optical.New(completer, opts), nil
}

// newTagSession opens the file-emulated tag device and audits into store.
func newTagSession(cfg config.Config, store *storage.Store) *tag.Session {
	hw := &tag.FileHardware{Path: cfg.Tag.DevicePath}
	return tag.NewSession(hw, store, tag.SessionOptions{Device: cfg.Tag.DeviceName})
}

// newScanDeps assembles the collaborators shared by every scan.
func newScanDeps(ctx context.Context, cfg config.Config, store *storage.Store, dir *directory.Directory) (scan.Deps, error) {
	extractor, err := newExtractor(ctx, cfg)
	if err != nil {
		return scan.Deps{}, err
	}
	return scan.Deps{
		Classifier: classify.New(cfg.ProfileHosts()...),
		Store:      store,
		Profiles:   dir,
		Optical:    extractor,
		Tags:       newTagSession(cfg, store),
	}, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tapping version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	dir := directory.New(store)
	scanDeps, err := newScanDeps(ctx, cfg, store, dir)
	if err != nil {
		return err
	}
	if cfg.API.Token == "" {
		slog.Warn("api.token is not set, the HTTP API accepts unauthenticated requests")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:     store,
			Directory: dir,
			Scan:      scanDeps,
			Token:     cfg.API.Token,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "tapping listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Image jobs run one at a time through a dedicated controller.
	worker := ingest.NewWorker(store, scan.NewController(scanDeps, nil), cfg.PollInterval())
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Scan: scanDeps})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}
