package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/api"
	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/engine/lifecycle"
	"TunnelSpectra/internal/ingest"
	"TunnelSpectra/internal/model"
	"TunnelSpectra/internal/notification"
	"TunnelSpectra/internal/storage/clickhouse"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting ts-engine...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	store, err := clickhouse.NewStore(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to storage: %v", err)
	}

	var notifier model.Notifier
	if cfg.Alerter.Enabled && cfg.SMTP.Host != "" {
		notifier = notification.NewEmailNotifier(cfg.SMTP)
	}

	manager, err := lifecycle.NewManager(cfg, store, clock.New(), notifier)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	if err := manager.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	subscriber, err := ingest.NewSubscriber(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	if err := subscriber.Start(manager.Dispatch); err != nil {
		log.Fatalf("Failed to subscribe to sample subject: %v", err)
	}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(manager),
	}
	go func() {
		log.Printf("Admin API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, draining engine...")
	subscriber.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("WARN: admin API forced to shutdown: %v", err)
	}

	manager.Stop()
	log.Println("Shutdown complete.")
}
