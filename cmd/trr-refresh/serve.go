package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/mcptools"
	"github.com/therealityreport/trr-app-sub006/internal/server"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

const shutdownGrace = 10 * time.Second

// serveHTTP runs the HTTP API (with the MCP endpoint mounted at /mcp)
// until ctx is cancelled, then drains the server and active runs.
func serveHTTP(ctx context.Context, cfg *config.Config, svc *service.Service, logger *zap.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	mcpServer := mcptools.NewServer(svc)
	engine := server.New(svc, mcptools.HTTPHandler(mcpServer), logger.Named("http"))

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("main: listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("main: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return svc.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// serveMCP runs the MCP tools on stdio until stdin closes or ctx is
// cancelled.
func serveMCP(ctx context.Context, svc *service.Service, logger *zap.Logger) error {
	logger.Info("main: serving MCP on stdio")
	err := mcptools.RunStdio(ctx, mcptools.NewServer(svc))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := svc.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("main: shutdown", zap.Error(serr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
