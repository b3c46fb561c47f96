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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/scrapejobs/internal/api"
	"github.com/kalambet/scrapejobs/internal/config"
	"github.com/kalambet/scrapejobs/internal/scrape"
	"github.com/kalambet/scrapejobs/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scrape job server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve scrape job tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openStore opens the configured job store. The returned Evicter is nil for
// backends that expire jobs on their own.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, storage.Evicter, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.OpenSQLite(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		s := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPrefix, cfg.Storage.Retention)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Storage.RedisAddr, err)
		}
		return s, nil, nil
	default:
		s := storage.NewMemoryStore()
		return s, s, nil
	}
}

func newSource(cfg config.ScraperConfig) (scrape.Source, error) {
	var fetcher scrape.Fetcher
	switch cfg.Fetcher {
	case "browser":
		fetcher = scrape.NewBrowserFetcher(cfg.RequestTimeout)
	default:
		fetcher = scrape.NewHTTPFetcher(cfg.RequestTimeout)
	}
	return scrape.NewNitterSource(cfg.BaseURL, fetcher)
}

func newRunner(ctx context.Context, cfg config.Config, store storage.Store) (*scrape.Runner, error) {
	source, err := newSource(cfg.Scraper)
	if err != nil {
		return nil, fmt.Errorf("creating scrape source: %w", err)
	}
	return scrape.NewRunner(ctx, store, source, scrape.Options{
		OutputDir:     cfg.Scraper.OutputDir,
		PageDelay:     cfg.Scraper.PageDelay,
		MaxEmptyPages: cfg.Scraper.MaxEmptyPages,
		MaxConcurrent: cfg.Scraper.MaxConcurrent,
	}), nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "scrapejobs version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, evicter, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	slog.Info("storage ready", "backend", cfg.Storage.Backend)

	runner, err := newRunner(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer runner.Stop()

	handler := api.NewHandler(api.Deps{
		Store:        store,
		Runner:       runner,
		DefaultCount: cfg.Scraper.DefaultCount,
	})

	addr := cfg.Server.Addr()
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
		fmt.Fprintf(os.Stderr, "scrapejobs listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if evicter != nil {
		retention := storage.NewRetention(evicter, cfg.Storage.Retention)
		g.Go(func() error {
			retention.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	runner, err := newRunner(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer runner.Stop()

	mcpSrv := api.NewMCPServer(api.Deps{
		Store:        store,
		Runner:       runner,
		DefaultCount: cfg.Scraper.DefaultCount,
	}, version)

	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
