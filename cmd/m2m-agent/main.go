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
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m2m-io/m2m/internal/config"
	"github.com/m2m-io/m2m/internal/runtime"
	"github.com/m2m-io/m2m/internal/types"
)

func main() {
	cfg, err := config.LoadAgentRuntime()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start agent runtime: %v", err)
	}

	log.Printf("Agent listening for peers on %s, connecting to hub at %s", rt.ListenAddr(), cfg.Agent.HubAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- rt.Run(ctx, func(in types.Incoming) {
			log.Printf("received %q from %s (correlation %s, %d bytes)", in.Type, in.From, in.CorrelationID, len(in.Payload))
		})
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down agent...")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			log.Fatalf("Agent runtime exited: %v", err)
		}
	}

	if err := rt.Close(); err != nil {
		log.Fatalf("Agent forced to shutdown: %v", err)
	}
	log.Println("Agent exited")
}
