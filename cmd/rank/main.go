package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/diffuse/internal/rank"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains the main logic and returns an exit code.
// This separation makes the logic testable and ensures deferred functions run.
func run(argv []string) int {
	args, err := rank.ParseArgs(argv)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		fmt.Fprintf(os.Stderr, "Usage: rank %s\n", rank.Usage)
		return 1
	}

	cfg, err := rank.LoadConfig()
	if err != nil {
		log.Printf("[ERROR] Configuration error: %v", err)
		return 1
	}

	log.Printf("[INFO] Rank %d/%d starting for run='%s'", cfg.Rank, cfg.WorldSize, cfg.RunID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker, err := rank.NewWorker(ctx, cfg, args)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return 1
	}
	defer func() {
		log.Printf("[DEBUG] Closing rendezvous client...")
		if err := worker.Close(); err != nil {
			log.Printf("[ERROR] Error closing rendezvous client: %v", err)
		}
	}()
	log.Printf("[INFO] Connected to Redis")
	worker.Timings = os.Stdout

	if cfg.HealthPort > 0 {
		healthServer := rank.NewHealthServer(worker.Client(), worker.Status(), cfg.HealthPort)
		healthServer.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := healthServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("[ERROR] Health server shutdown error: %v", err)
			}
		}()
		log.Printf("[INFO] Health server started on :%d", cfg.HealthPort)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		// The run is all-or-nothing: abandon it and let peers time out.
		log.Printf("[INFO] Received signal: %v", sig)
		cancel()
		<-done
		return 1
	case err := <-done:
		if err != nil {
			log.Printf("[ERROR] Run failed: %v", err)
			return 1
		}
	}

	log.Printf("[INFO] Rank %d finished", cfg.Rank)
	return 0
}
