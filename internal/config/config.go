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

package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the hub process configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	TLS     TLSConfig      `yaml:"tls"`
	Hub     HubConfig      `yaml:"hub"`
	Auth    AuthConfig     `yaml:"auth"`
	Logging LoggingConfig  `yaml:"logging"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Storage StorageConfig  `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration for the hub's
// informational surface and control-channel upgrade endpoint.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// HubConfig holds registry lifecycle and address-trust policy, per
// spec.md §4.9.
type HubConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	IdleAfter            time.Duration `yaml:"idle_after"`
	OfflineAfter         time.Duration `yaml:"offline_after"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	TrustClientAddress   bool          `yaml:"trust_client_address"`
	MaxAgentsPerCapacity int           `yaml:"max_agents_per_capability"`
}

// AgentConfig holds an agent runtime's configuration.
type AgentConfig struct {
	ListenAddress     string            `yaml:"listen_address"`
	HubAddress        string            `yaml:"hub_address"`
	AdvertiseAddress  string            `yaml:"advertise_address"`
	Capabilities      []string          `yaml:"capabilities"`
	Metadata          map[string]string `yaml:"metadata"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	AutoReconnect     bool              `yaml:"auto_reconnect"`
	RequestTimeout    time.Duration     `yaml:"request_timeout"`
}

// AuthConfig holds authentication configuration for the hub's admin
// HTTP surface.
type AuthConfig struct {
	RequireAdminAuth  bool   `yaml:"require_admin_auth"`
	AdminKeyFile      string `yaml:"admin_key_file"`
	AdminAPIKeyHeader string `yaml:"admin_api_key_header"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StorageConfig selects and configures the registry's persistence
// backend.
type StorageConfig struct {
	Type string `yaml:"type"` // "memory", "postgres", "mysql"
	DSN  string `yaml:"dsn"`
}

// Load loads hub configuration from a YAML file, environment
// variables, and command-line flags, in increasing order of
// precedence.
func Load() (*Config, error) {
	configFile := flag.String("config", "", "Path to configuration file (YAML)")
	adminKeyFile := flag.String("admin-key-file", "", "Path to admin API key file")
	flag.Parse()

	cfg := DefaultConfig()

	if err := loadFromYAML(cfg, *configFile); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	loadFromEnv(cfg)

	if *adminKeyFile != "" {
		cfg.Auth.AdminKeyFile = *adminKeyFile
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a hub configuration populated with spec.md's
// default lifecycle timings (§4.9: idle at 2 minutes, offline at 5).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8443",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		TLS: TLSConfig{
			Enabled:    false,
			MinVersion: "1.3",
		},
		Hub: HubConfig{
			HeartbeatInterval:  30 * time.Second,
			IdleAfter:          2 * time.Minute,
			OfflineAfter:       5 * time.Minute,
			SweepInterval:      30 * time.Second,
			TrustClientAddress: false,
		},
		Auth: AuthConfig{
			RequireAdminAuth:  false,
			AdminAPIKeyHeader: "X-Admin-Key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
	}
}

// DefaultAgentConfig returns an agent runtime configuration with
// spec.md §4.5's default heartbeat interval and reconnect policy.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		ListenAddress:     ":0",
		HubAddress:        "ws://localhost:8443/ws",
		HeartbeatInterval: 30 * time.Second,
		AutoReconnect:     true,
		RequestTimeout:    10 * time.Second,
	}
}

// AgentRuntimeConfig is the top-level configuration for an agent
// process: the hub connection and P2P listener settings plus the
// same ambient logging/metrics concerns the hub carries.
type AgentRuntimeConfig struct {
	Agent   AgentConfig    `yaml:"agent"`
	Logging LoggingConfig  `yaml:"logging"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// DefaultAgentRuntimeConfig returns an agent runtime configuration
// with the same logging defaults as the hub.
func DefaultAgentRuntimeConfig() *AgentRuntimeConfig {
	return &AgentRuntimeConfig{
		Agent: *DefaultAgentConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadAgentRuntime loads agent configuration from the YAML file named
// by the -config flag, then environment variables, which take
// precedence. No other command-line flag overrides a setting.
func LoadAgentRuntime() (*AgentRuntimeConfig, error) {
	configFile := flag.String("config", "", "Path to configuration file (YAML)")
	flag.Parse()

	cfg := DefaultAgentRuntimeConfig()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", *configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file %s: %w", *configFile, err)
		}
	}

	loadAgentFromEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadAgentFromEnv(cfg *AgentRuntimeConfig) {
	if val := getEnv("M2M_AGENT_LISTEN_ADDRESS", ""); val != "" {
		cfg.Agent.ListenAddress = val
	}
	if val := getEnv("M2M_AGENT_HUB_ADDRESS", ""); val != "" {
		cfg.Agent.HubAddress = val
	}
	if val := getEnv("M2M_AGENT_ADVERTISE_ADDRESS", ""); val != "" {
		cfg.Agent.AdvertiseAddress = val
	}
	if val := getEnv("M2M_AGENT_CAPABILITIES", ""); val != "" {
		cfg.Agent.Capabilities = strings.Split(val, ",")
	}
	if val := getDurationEnv("M2M_AGENT_HEARTBEAT_INTERVAL", 0); val != 0 {
		cfg.Agent.HeartbeatInterval = val
	}
	if val := getBoolEnvWithDefault("M2M_AGENT_AUTO_RECONNECT", cfg.Agent.AutoReconnect); val != cfg.Agent.AutoReconnect {
		cfg.Agent.AutoReconnect = val
	}
	if val := getDurationEnv("M2M_AGENT_REQUEST_TIMEOUT", 0); val != 0 {
		cfg.Agent.RequestTimeout = val
	}
	if val := getEnv("M2M_LOG_LEVEL", ""); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("M2M_LOG_FORMAT", ""); val != "" {
		cfg.Logging.Format = val
	}
	if getBoolEnv("M2M_METRICS_ENABLED", false) {
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	}
}

func (c *AgentRuntimeConfig) validate() error {
	if strings.TrimSpace(c.Agent.HubAddress) == "" {
		return fmt.Errorf("hub address is required")
	}
	if strings.TrimSpace(c.Agent.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

func loadFromYAML(cfg *Config, configFile string) error {
	if configFile == "" {
		return nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config file %s: %w", configFile, err)
	}

	return nil
}

func loadFromEnv(cfg *Config) {
	if val := getEnv("M2M_SERVER_ADDRESS", ""); val != "" {
		cfg.Server.Address = val
	}
	if val := getDurationEnv("M2M_READ_TIMEOUT", 0); val != 0 {
		cfg.Server.ReadTimeout = val
	}
	if val := getDurationEnv("M2M_WRITE_TIMEOUT", 0); val != 0 {
		cfg.Server.WriteTimeout = val
	}

	if val := getBoolEnvWithDefault("M2M_TLS_ENABLED", cfg.TLS.Enabled); val != cfg.TLS.Enabled {
		cfg.TLS.Enabled = val
	}
	if val := getEnv("M2M_TLS_CERT_FILE", ""); val != "" {
		cfg.TLS.CertFile = val
	}
	if val := getEnv("M2M_TLS_KEY_FILE", ""); val != "" {
		cfg.TLS.KeyFile = val
	}

	if val := getDurationEnv("M2M_HEARTBEAT_INTERVAL", 0); val != 0 {
		cfg.Hub.HeartbeatInterval = val
	}
	if val := getDurationEnv("M2M_IDLE_AFTER", 0); val != 0 {
		cfg.Hub.IdleAfter = val
	}
	if val := getDurationEnv("M2M_OFFLINE_AFTER", 0); val != 0 {
		cfg.Hub.OfflineAfter = val
	}
	if val := getBoolEnvWithDefault("M2M_TRUST_CLIENT_ADDRESS", cfg.Hub.TrustClientAddress); val != cfg.Hub.TrustClientAddress {
		cfg.Hub.TrustClientAddress = val
	}

	if val := getBoolEnvWithDefault("M2M_REQUIRE_ADMIN_AUTH", cfg.Auth.RequireAdminAuth); val != cfg.Auth.RequireAdminAuth {
		cfg.Auth.RequireAdminAuth = val
	}
	if val := getEnv("M2M_ADMIN_KEY_FILE", ""); val != "" {
		cfg.Auth.AdminKeyFile = val
	}
	if val := getEnv("M2M_ADMIN_API_KEY_HEADER", ""); val != "" {
		cfg.Auth.AdminAPIKeyHeader = val
	}

	if val := getEnv("M2M_LOG_LEVEL", ""); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("M2M_LOG_FORMAT", ""); val != "" {
		cfg.Logging.Format = val
	}

	if val := getEnv("M2M_STORAGE_TYPE", ""); val != "" {
		cfg.Storage.Type = val
	}
	if val := getEnv("M2M_STORAGE_DSN", ""); val != "" {
		cfg.Storage.DSN = val
	}

	if getBoolEnv("M2M_METRICS_ENABLED", false) {
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server address is required")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if c.Hub.IdleAfter <= 0 || c.Hub.OfflineAfter <= 0 {
		return fmt.Errorf("hub idle/offline thresholds must be positive")
	}
	if c.Hub.OfflineAfter <= c.Hub.IdleAfter {
		return fmt.Errorf("offline threshold must be greater than idle threshold")
	}

	switch c.Storage.Type {
	case "memory", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Auth.AdminKeyFile != "" {
		if _, err := os.Stat(c.Auth.AdminKeyFile); err != nil {
			return fmt.Errorf("admin key file not found: %s", c.Auth.AdminKeyFile)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	return getBoolEnv(key, defaultValue)
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
