package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"agentic-retrieval-be/internal/bootstrap"
	"agentic-retrieval-be/internal/config"
	"agentic-retrieval-be/internal/server"
	"agentic-retrieval-be/internal/tracer"
	"agentic-retrieval-be/pkg/database"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := tracer.InitTracer(ctx)
	defer shutdownTracer(context.Background())

	cfg := config.Load()

	dbOpts := database.DefaultOptions()
	dbOpts.Verbose = cfg.App.Environment != "production"
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection, dbOpts)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	container, err := bootstrap.NewContainer(ctx, gormDB, cfg)
	if err != nil {
		log.Panicf("Unable to bootstrap: %v", err)
	}
	defer container.Close()

	if err := container.TurnEvents.Start(ctx); err != nil {
		container.Logger.Error("MAIN", "Turn event consumer not started", map[string]interface{}{"error": err.Error()})
	}

	srv := server.New(cfg, container)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		container.WebSocketHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		container.Logger.Error("MAIN", "Server stopped", map[string]interface{}{"error": err.Error()})
	}
}
