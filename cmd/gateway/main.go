package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foundry-chat/internal/gateway"
	"foundry-chat/internal/runtime"
	"foundry-chat/pkg/config"
	"foundry-chat/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting agent gateway...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Register tools; Jira is the only built-in tool server
	var tools []runtime.Tool
	if cfg.JiraBaseURL != "" {
		tools = runtime.NewJiraTools(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)
		log.Info("Jira tools registered", zap.Int("count", len(tools)))
	} else {
		log.Warn("JIRA_BASE_URL not set, running without tools")
	}

	rt := runtime.NewRuntime(
		cfg.UpstreamBaseURL,
		cfg.UpstreamAPIKey,
		cfg.UpstreamModel,
		cfg.AgentName,
		cfg.ConsentURL,
		tools,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := gateway.NewServer(ctx, cfg, rt)
	if err != nil {
		log.Fatal("Failed to build gateway server", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Gateway listening",
			zap.String("port", cfg.Port),
			zap.String("agent", cfg.AgentName),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Gateway exited with error", zap.Error(err))
		return
	}
	log.Info("Gateway exited")
}
