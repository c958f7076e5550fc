// Command viewsync streams visual frames from a browser page and
// synchronizes input actions against the frames they produce.
//
// Usage:
//
//	viewsync -url https://example.com                  # observe a page, MCP on stdio
//	viewsync -config viewsync.yaml -url https://...    # tuned pipeline
//	viewsync -url https://... -http :8089              # with debug HTTP surface
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewsync/audit"
	"github.com/hazyhaar/viewsync/browser"
	"github.com/hazyhaar/viewsync/dbopen"
	"github.com/hazyhaar/viewsync/mcpbridge"
	"github.com/hazyhaar/viewsync/pipeline"
	"github.com/hazyhaar/viewsync/statusapi"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to viewsync.yaml config file")
	url := flag.String("url", "", "page to observe")
	httpAddr := flag.String("http", "", "debug HTTP listen address (empty = disabled)")
	auditPath := flag.String("audit-db", "", "SQLite audit log path (empty = disabled)")
	remoteURL := flag.String("remote", "", "WebSocket URL of an external Chrome (empty = launch local)")
	stealth := flag.Bool("stealth", false, "open pages with anti-detection scripts")
	noMCP := flag.Bool("no-mcp", false, "do not serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: viewsync -url <url> [-config <file>] [-http <addr>] [-audit-db <path>]")
		os.Exit(1)
	}

	if err := run(ctx, logger, *configPath, *url, *httpAddr, *auditPath, *remoteURL, *stealth, !*noMCP); err != nil {
		logger.Error("viewsync: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, url, httpAddr, auditPath, remoteURL string, stealth, serveMCP bool) error {
	cfg := pipeline.Config{}
	if configPath != "" {
		loaded, err := pipeline.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}

	mgr := browser.NewManager(browser.ManagerConfig{
		RemoteURL: remoteURL,
		Stealth:   stealth,
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser start: %w", err)
	}
	defer mgr.Close()

	page, err := mgr.OpenPage(url)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	src := browser.NewSource(page, browser.SourceConfig{Logger: logger})
	exec := browser.NewExecutor(page, logger)

	opts := []pipeline.Option{
		pipeline.WithSource(src),
		pipeline.WithExecutor(exec.Execute),
		pipeline.WithLogger(logger),
	}

	if auditPath != "" {
		db, err := dbopen.Open(auditPath, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer db.Close()

		aud := audit.New(db)
		if err := aud.Init(); err != nil {
			return err
		}
		defer aud.Close()
		opts = append(opts, pipeline.WithAudit(aud))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: p.Clear,
	})

	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           statusapi.NewRouter(p, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("viewsync: debug http listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("viewsync: debug http", "error", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shCtx)
		}()
	}

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "viewsync", Version: version}, nil)
		mcpbridge.RegisterMCP(srv, p)
		logger.Info("viewsync: serving mcp on stdio", "url", url)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	logger.Info("viewsync: observing", "url", url)
	<-ctx.Done()
	return nil
}
