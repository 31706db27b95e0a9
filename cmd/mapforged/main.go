// mapforged runs the task coordination core as a long-lived process: it
// owns the database, publishes lifecycle events over NATS, and runs the
// periodic hygiene sweeps (stale lock release, review request expiry).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mapforge/mapforge/internal/config"
	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/store"
)

func main() {
	configPath := flag.String("config", "mapforge.yaml", "Configuration file")
	dbPath := flag.String("db", "", "Override database path")
	embeddedNATS := flag.Bool("embedded-nats", false, "Run an in-process NATS server")
	natsPort := flag.Int("nats-port", 4222, "Port for the embedded NATS server")
	sweepInterval := flag.Duration("sweep-interval", 5*time.Minute, "Hygiene sweep interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()
	log.Printf("[MAIN] database open at %s", cfg.Database.Path)

	// Event transport: embedded server, external URL, or disabled
	var srv *events.EmbeddedServer
	natsURL := cfg.NATS.URL
	if *embeddedNATS {
		srv = events.NewEmbeddedServer(events.EmbeddedServerConfig{Port: *natsPort})
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start embedded NATS: %v\n", err)
			os.Exit(1)
		}
		defer srv.Shutdown()
		natsURL = srv.URL()
		log.Printf("[MAIN] embedded NATS listening at %s", natsURL)
	}

	var client *events.Client
	if natsURL != "" {
		client, err = events.NewClient(natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to NATS: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()
		log.Printf("[MAIN] events connected to %s", natsURL)
	} else {
		log.Printf("[MAIN] events disabled, no NATS URL configured")
	}

	locks := locking.NewManager(s, cfg.Locks.Expiry.Std())

	stop := make(chan struct{})
	done := make(chan struct{})
	go hygieneLoop(s, locks, cfg.Reviews.ClaimExpiry.Std(), *sweepInterval, stop, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("[MAIN] shutting down")
	close(stop)
	<-done
}

// hygieneLoop periodically releases stale locks and expires old review
// requests until stop is closed.
func hygieneLoop(s *store.SQLiteStore, locks *locking.Manager, claimExpiry, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n, err := locks.SweepStale(); err != nil {
				log.Printf("[SWEEP] lock sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[SWEEP] released %d stale locks", n)
			}

			ids, err := s.ExpireStaleReviewRequests(claimExpiry, time.Now())
			if err != nil {
				log.Printf("[SWEEP] review expiry failed: %v", err)
			} else if len(ids) > 0 {
				log.Printf("[SWEEP] expired %d stale review requests", len(ids))
			}
		}
	}
}
