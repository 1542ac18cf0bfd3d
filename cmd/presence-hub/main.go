package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsdesk/presenced/internal/config"
	"github.com/opsdesk/presenced/internal/hub"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	demoMode := flag.Bool("demo", false, "Generate demo chat traffic")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Hub.Port = *port
	}

	store := hub.NewStore()
	broadcaster := hub.NewBroadcaster(store, cfg.Hub.BroadcastThrottle, cfg.Hub.SnapshotInterval)
	server := hub.NewServer(store, broadcaster, cfg.Hub.AllowedOrigins, cfg.Hub.AuthToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *demoMode {
		demo := hub.NewDemo(store, broadcaster, cfg.Hub.DemoUsers, cfg.Hub.DemoInterval)
		demo.Start(ctx)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		broadcaster.Close()
		os.Exit(0)
	}()

	if err := hub.ListenAndServe(cfg.Hub.Host, cfg.Hub.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
