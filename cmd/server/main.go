// JSONJet server
// Document stream-processing engine driven by the Jet query language
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/api"
	"github.com/jsonjet/jsonjet/pkg/config"
	"github.com/jsonjet/jsonjet/pkg/engine"
	"github.com/jsonjet/jsonjet/pkg/sched"
	"github.com/jsonjet/jsonjet/pkg/sink"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	httpAddr := flag.String("http-addr", "", "HTTP API address")
	bootstrap := flag.String("init", "", "Path to a Jet program executed at startup")
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal("Failed to load config", zap.Error(err))
		}
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	logger.Info("Starting JSONJet node", zap.String("http_addr", cfg.HTTPAddr))

	mgr := stream.NewManager(logger)
	eng := engine.New(mgr, logger, engine.Options{
		ScanMaxMatches:   cfg.ScanMaxMatches,
		SorterBuffer:     cfg.SorterBufferSize,
		SorterMaxLatency: cfg.SorterMaxLatency(),
	})

	triggers := sink.NewTriggerManager(logger, mgr, cfg.KafkaBrokers)
	defer triggers.Close()

	// Scheduled statements
	scheduler := sched.NewScheduler(eng, logger)
	for _, job := range cfg.Jobs {
		if err := scheduler.AddJob(sched.Job{Name: job.Name, Schedule: job.Schedule, Statement: job.Statement}); err != nil {
			logger.Fatal("Failed to register job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Optional bootstrap program
	if *bootstrap != "" {
		src, err := os.ReadFile(*bootstrap)
		if err != nil {
			logger.Fatal("Failed to read init program", zap.Error(err))
		}
		resp := eng.Execute(context.Background(), string(src))
		if !resp.Success {
			logger.Fatal("Init program failed", zap.String("error", resp.Error))
		}
	}

	apiServer := api.NewServer(eng, triggers, logger)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Handler(),
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpServer.Shutdown(ctx)

	logger.Info("Shutdown complete")
}
