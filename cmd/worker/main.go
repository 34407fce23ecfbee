package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawgraph/counsel/internal/bootstrap"
	"github.com/lawgraph/counsel/internal/config"
	"github.com/lawgraph/counsel/internal/core/domain"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.WorkerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: mux,
	}
	go func() {
		log.Printf("worker metrics on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()

	log.Printf("worker subscribed to %s", cfg.NATSSubject)
	err = app.Queue.SubscribeAnswerAudited(ctx, func(handlerCtx context.Context, record domain.AuditRecord) error {
		if !record.CreatedAt.IsZero() {
			app.WorkerMetrics.ObserveQueueLag("worker", time.Since(record.CreatedAt))
		}

		insertCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		app.WorkerMetrics.StartInsert()
		started := time.Now()
		insertErr := app.Audits.InsertRecord(insertCtx, record)
		app.WorkerMetrics.FinishInsert("worker", time.Since(started), insertErr)
		return insertErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker metrics shutdown error: %v", err)
	}
}
