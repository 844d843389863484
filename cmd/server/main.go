package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/weeargh/kiwi/internal/app"
	"github.com/weeargh/kiwi/internal/config"
	"github.com/weeargh/kiwi/internal/logging"
	"github.com/weeargh/kiwi/internal/mcp"
	"github.com/weeargh/kiwi/internal/scheduler"
	"github.com/weeargh/kiwi/internal/transport"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries JSON-RPC frames in stdio mode.
	console := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		console = os.Stderr
	}
	logger, logCloser, err := logging.New(cfg.Log, console)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log setup error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	mcpServer := mcp.NewServer(mcp.Config{
		Dispatcher:    a.Handler,
		Resolver:      a,
		AuthEnabled:   cfg.Auth.Enabled,
		TransportMode: cfg.Transport.Mode,
		DefaultTenant: cfg.Auth.DefaultTenant,
		Version:       version,
		Logger:        logger,
	})

	var workers sync.WaitGroup
	startWorkers(ctx, &workers, a, logger)

	// Branch based on transport mode
	if cfg.Transport.Mode == "stdio" {
		runStdioMode(ctx, logger, mcpServer)
	} else {
		runHTTPMode(ctx, logger, a, mcpServer)
	}

	stop()
	workers.Wait()
}

// startWorkers runs the batch scheduler and, in amqp trigger mode, the
// grant.created consumer until ctx ends.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, a *app.App, logger *slog.Logger) {
	sched := scheduler.New(a.Batch, scheduler.Config{
		Interval:   a.Config.Batch.Interval,
		Timeout:    a.Config.Batch.Timeout,
		RunOnStart: a.Config.Batch.RunOnStart,
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Start(ctx)
	}()

	if a.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Consumer.Run(ctx, a.Config.Trigger.AMQPURL, a.Config.Trigger.Queue)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("grant consumer stopped", "error", err)
			}
		}()
	}
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport", "auth", "disabled")

	// Run blocks until stdin closes or context is canceled
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stdio server error", "error", err)
	}
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, a *app.App, mcpServer *sdkmcp.Server) {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)

	opts := transport.Options{DefaultTenant: a.Config.Auth.DefaultTenant, MCP: mcpHandler}
	if a.Config.Auth.Enabled {
		opts.Auth = transport.AuthMiddleware(a)
	}

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           transport.NewServer(a.Handler, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr, "auth", a.Config.Auth.Enabled, "trigger", a.Config.Trigger.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(ctx, logger, httpServer)
}

func waitForShutdown(ctx context.Context, logger *slog.Logger, server *http.Server) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
