package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lawgraph/counsel/internal/bootstrap"
	"github.com/lawgraph/counsel/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "indexsync")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	synced, err := app.Indexer.Sync(ctx)
	if err != nil {
		log.Fatalf("index sync error after %d chunks: %v", synced, err)
	}
	log.Printf("index sync done: %d chunks", synced)
}
