// Package main is the entry point for acpd, the ACP session orchestrator.
// It loads the configured agent list, exposes the four ACP tool-surface
// operations over MCP, and owns every spawned agent subprocess for the
// lifetime of the process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kandev/acpgate/internal/acp/session"
	"github.com/kandev/acpgate/internal/acp/tools"
	"github.com/kandev/acpgate/internal/common/config"
	"github.com/kandev/acpgate/internal/common/logger"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	clientName    = "acpgate"
	clientVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting acpd",
		zap.String("version", clientVersion),
		zap.String("acp_config_path", cfg.ACP.ConfigPath),
		zap.String("mcp_listen_addr", cfg.MCP.ListenAddr),
	)

	mgr := session.NewManagerFromFile(cfg.ACP.ConfigPath, session.ClientIdentity{
		Name:    clientName,
		Version: clientVersion,
	}, log)
	log.Info("loaded agent configuration", zap.Strings("agents", mgr.AvailableAgents()))

	mcpServer := server.NewMCPServer(clientName, clientVersion, server.WithToolCapabilities(true))
	tools.Register(mcpServer, mgr, log)

	streamableServer := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))
	mux := http.NewServeMux()
	mux.Handle("/mcp", streamableServer)

	httpServer := &http.Server{
		Addr:         cfg.MCP.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("MCP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("MCP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down acpd")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr.Cleanup(ctx)

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("MCP server shutdown error", zap.Error(err))
	}

	log.Info("acpd stopped")
}
