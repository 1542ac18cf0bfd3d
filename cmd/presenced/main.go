package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsdesk/presenced/internal/agent"
	"github.com/opsdesk/presenced/internal/config"
	"github.com/opsdesk/presenced/internal/localstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	stateDir := flag.String("state-dir", "", "Override agent state directory")
	hubURL := flag.String("hub", "", "Override hub base URL")
	loginUser := flag.String("login", "", "Store a session credential for this user id and exit")
	loginRole := flag.String("role", "agent", "Role stored with -login")
	loginToken := flag.String("token", "", "Bearer token stored with -login")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	if *stateDir != "" {
		cfg.Agent.StateDir = *stateDir
	}
	if *hubURL != "" {
		cfg.Agent.HubURL = *hubURL
	}

	store := localstore.Open(cfg.Agent.StateDir)

	if *loginUser != "" {
		cred := localstore.Credential{UserID: *loginUser, Role: *loginRole, Token: *loginToken}
		if err := store.SaveCredential(cred); err != nil {
			log.Fatalf("Failed to store credential: %v", err)
		}
		log.Printf("Credential stored for %s in %s", *loginUser, store.Dir())
		return
	}

	a, err := agent.New(cfg.Agent, store)
	if err != nil {
		log.Fatalf("Failed to build agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	// SIGINT and SIGTERM are the termination triggers; whichever lands
	// first flushes the away status through the single latch. SIGUSR1
	// is the explicit "stay logged in" confirmation for the inactivity
	// warning.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range sigCh {
		if sig == syscall.SIGUSR1 {
			a.Confirm()
			continue
		}
		log.Printf("Shutting down on %v...", sig)
		a.NotifyTermination()
		a.Teardown()
		return
	}
}
