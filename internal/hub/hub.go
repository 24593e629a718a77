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

// Package hub is the M2M hub process: the content-blind agent
// directory's HTTP surface (health, agent listing, stats) and the
// WebSocket control channel agents connect to for register, heartbeat,
// discover, find, lookup, status, disconnect, and stats (spec.md §4.5,
// §6).
package hub

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m2m-io/m2m/internal/config"
	"github.com/m2m-io/m2m/internal/logging"
	"github.com/m2m-io/m2m/internal/metrics"
	"github.com/m2m-io/m2m/internal/middleware"
	"github.com/m2m-io/m2m/internal/registry"
	"github.com/m2m-io/m2m/internal/validation"
)

// Hub is the hub process's HTTP+WS server.
type Hub struct {
	cfg        *config.Config
	httpServer *http.Server
	router     *gin.Engine
	registry   *registry.Registry
	validator  *validation.Validator
	logger     *logging.Logger
	metrics    *metrics.SimpleMetrics
	startTime  time.Time
}

// New creates a Hub wired to reg and the storage backend reg already
// carries. Callers construct the registry.Store/registry.Registry
// themselves (see cmd/m2m-hub) so tests can substitute an in-memory
// store without touching this constructor.
func New(cfg *config.Config, reg *registry.Registry) *Hub {
	logger := logging.NewLogger(cfg.Logging).WithComponent("hub")

	var metricsInstance *metrics.SimpleMetrics
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsInstance = metrics.NewSimpleMetrics()
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	h := &Hub{
		cfg:       cfg,
		router:    router,
		registry:  reg,
		validator: validation.New(cfg.Hub.MaxAgentsPerCapacity),
		logger:    logger,
		metrics:   metricsInstance,
		startTime: time.Now().UTC(),
	}

	h.setupMiddleware()
	h.setupRoutes()

	h.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      h.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return h
}

// Start runs the sweeper in the background and serves HTTP until the
// listener fails or Shutdown is called.
func (h *Hub) Start(ctx context.Context) error {
	go h.registry.Run(ctx)

	if h.cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(h.cfg.TLS)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		h.httpServer.TLSConfig = tlsConfig
		return h.httpServer.ListenAndServeTLS(h.cfg.TLS.CertFile, h.cfg.TLS.KeyFile)
	}
	return h.httpServer.ListenAndServe()
}

// Shutdown gracefully drains the HTTP server.
func (h *Hub) Shutdown(ctx context.Context) error {
	return h.httpServer.Shutdown(ctx)
}

// Router exposes the Gin engine for testing.
func (h *Hub) Router() *gin.Engine {
	return h.router
}

func (h *Hub) setupMiddleware() {
	h.router.Use(gin.Recovery())
	h.router.Use(middleware.Logger(h.cfg.Logging))
	h.router.Use(middleware.CORS())
	h.router.Use(middleware.RequestID())
	h.router.Use(middleware.SecurityHeaders())
}

func (h *Hub) setupRoutes() {
	h.router.GET("/health", h.handleHealth)
	h.router.GET("/ws", h.handleControlChannel)

	v1 := h.router.Group("/v1")
	{
		v1.GET("/agents", h.withRequestMetrics(h.handleListAgents))
		v1.GET("/agents/:id", h.withRequestMetrics(h.handleGetAgent))
		v1.GET("/stats", h.withRequestMetrics(h.handleStats))

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(h.cfg.Auth))
		{
			admin.DELETE("/agents/:id", h.withRequestMetrics(h.handleAdminDisconnect))
		}
	}

	if h.metrics != nil {
		h.router.GET("/metrics", h.handleMetrics)
	}
}

func createTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}

	switch cfg.MinVersion {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig, nil
}
