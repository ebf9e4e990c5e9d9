// Command domveil runs the coordinator daemon: it attaches to Chrome,
// injects page agents on eligible tabs, routes messages between agents
// and a panel session, and serves a loopback admin surface. With
// MCP_TRANSPORT=stdio the rule store is also exposed as MCP tools.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domveil"
	"github.com/hazyhaar/domveil/settings"
)

func main() {
	configPath := env("CONFIG", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := domveil.DefaultConfig()
	if configPath != "" {
		loaded, err := domveil.LoadConfig(configPath)
		if err != nil {
			slog.Error("load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc, err := domveil.New(cfg, logger)
	if err != nil {
		slog.Error("create service", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(ctx); err != nil {
		slog.Error("start service", "error", err)
		svc.Close()
		os.Exit(1)
	}

	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "domveil",
			Version: "1.0.0",
		}, nil)
		settings.RegisterMCP(mcpSrv, svc.Store())

		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	if err := svc.Close(); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
