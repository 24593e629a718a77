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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != ":8443" {
		t.Errorf("Expected default address ':8443', got %s", cfg.Server.Address)
	}
	if cfg.Hub.IdleAfter != 2*time.Minute {
		t.Errorf("Expected default idle threshold 2m, got %s", cfg.Hub.IdleAfter)
	}
	if cfg.Hub.OfflineAfter != 5*time.Minute {
		t.Errorf("Expected default offline threshold 5m, got %s", cfg.Hub.OfflineAfter)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected default storage type 'memory', got %s", cfg.Storage.Type)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()

	if !cfg.AutoReconnect {
		t.Error("Expected auto-reconnect to default to true")
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected default heartbeat interval 30s, got %s", cfg.HeartbeatInterval)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("Expected default request timeout 10s, got %s", cfg.RequestTimeout)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hub.OfflineAfter = cfg.Hub.IdleAfter

	if err := cfg.validate(); err == nil {
		t.Error("Expected validation error when offline threshold does not exceed idle threshold")
	}
}

func TestValidateRejectsUnsupportedStorage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = "sqlite"

	if err := cfg.validate(); err == nil {
		t.Error("Expected validation error for unsupported storage type")
	}
}

func TestValidateRequiresTLSFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true

	if err := cfg.validate(); err == nil {
		t.Error("Expected validation error when TLS enabled without cert/key files")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	content := []byte("server:\n  address: \":9000\"\nstorage:\n  type: postgres\n  dsn: \"postgres://x\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg := DefaultConfig()
	if err := loadFromYAML(cfg, path); err != nil {
		t.Fatalf("loadFromYAML returned error: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("Expected address ':9000', got %s", cfg.Server.Address)
	}
	if cfg.Storage.Type != "postgres" {
		t.Errorf("Expected storage type 'postgres', got %s", cfg.Storage.Type)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("M2M_SERVER_ADDRESS", ":7777")
	t.Setenv("M2M_TRUST_CLIENT_ADDRESS", "true")
	t.Setenv("M2M_STORAGE_TYPE", "mysql")

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	if cfg.Server.Address != ":7777" {
		t.Errorf("Expected address ':7777', got %s", cfg.Server.Address)
	}
	if !cfg.Hub.TrustClientAddress {
		t.Error("Expected TrustClientAddress to be true from env override")
	}
	if cfg.Storage.Type != "mysql" {
		t.Errorf("Expected storage type 'mysql', got %s", cfg.Storage.Type)
	}
}
