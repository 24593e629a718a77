/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m2m-io/m2m/internal/config"
	"github.com/m2m-io/m2m/internal/hub"
	"github.com/m2m-io/m2m/internal/registry"
	"github.com/m2m-io/m2m/internal/storage"
)

func runHealthCheck(addr string) error {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func main() {
	healthCheck := flag.Bool("health-check", false, "Run health check")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Address); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	store, err := storage.New(storage.Config{Type: cfg.Storage.Type, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("Failed to create registry storage: %v", err)
	}

	reg := registry.New(store, registry.HeartbeatConfig{
		IdleAfter:     cfg.Hub.IdleAfter,
		OfflineAfter:  cfg.Hub.OfflineAfter,
		SweepInterval: cfg.Hub.SweepInterval,
	})

	h := hub.New(cfg, reg)

	ctx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()

	go func() {
		log.Printf("Starting M2M hub on %s", cfg.Server.Address)
		if err := h.Start(ctx); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Hub failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down hub...")
	cancelSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Hub forced to shutdown: %v", err)
	}
	log.Println("Hub exited")
}
