/*
 * Copyright 2025 Sen Wang
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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/m2m-io/m2m/internal/registry"
)

// agentModel is the GORM row shape for the "agents" table, matching
// spec.md §6's persistent layout: id PK, address, capabilities
// set<string>, metadata map, status enum, last_seen, created_at.
type agentModel struct {
	ID           string `gorm:"primaryKey;size:32"`
	Address      string `gorm:"size:255"`
	Capabilities datatypes.JSON
	Metadata     datatypes.JSON
	Status       string `gorm:"size:16;index"`
	LastSeen     time.Time
	CreatedAt    time.Time
}

func (agentModel) TableName() string { return "agents" }

// DatabaseStore implements registry.Store on top of GORM, supporting
// Postgres and MySQL depending on the driver name it is given.
type DatabaseStore struct {
	db     *gorm.DB
	driver string
}

// NewDatabaseStore opens a connection per driver. dbOverride lets
// tests inject a sqlmock-backed *gorm.DB instead of dialing a real
// driver. Call Migrate separately to create the schema; NewDatabaseStore
// itself does no DDL, so it can be constructed against a mock without
// satisfying migration query expectations.
func NewDatabaseStore(driver, dsn string, dbOverride ...*gorm.DB) (*DatabaseStore, error) {
	if len(dbOverride) > 0 && dbOverride[0] != nil {
		return &DatabaseStore{db: dbOverride[0], driver: strings.ToLower(driver)}, nil
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DatabaseStore{db: db, driver: strings.ToLower(driver)}, nil
}

// Migrate runs the schema migration for the agents table and, on
// Postgres, creates a GIN index on capabilities (GORM's AutoMigrate
// does not emit GIN indexes itself). Query does not use that index: it
// filters capabilities in-process on every driver.
func (s *DatabaseStore) Migrate() error {
	if err := s.db.AutoMigrate(&agentModel{}); err != nil {
		return fmt.Errorf("failed to migrate agents table: %w", err)
	}

	if s.driver == "postgres" {
		_ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_capabilities ON agents USING GIN (capabilities)`).Error
	}

	return nil
}

func (s *DatabaseStore) Create(ctx context.Context, r *registry.Record) error {
	model, err := toModel(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *DatabaseStore) Get(ctx context.Context, id string) (*registry.Record, error) {
	var model agentModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&model)
}

func (s *DatabaseStore) Update(ctx context.Context, r *registry.Record) error {
	model, err := toModel(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&agentModel{}).Where("id = ?", r.ID).Updates(model).Error
	})
}

func (s *DatabaseStore) Query(ctx context.Context, f registry.QueryFilter) ([]*registry.Record, int, error) {
	var models []agentModel
	q := s.db.WithContext(ctx).Model(&agentModel{})

	if f.ExcludeID != "" {
		q = q.Where("id <> ?", f.ExcludeID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	if err := q.Find(&models).Error; err != nil {
		return nil, 0, err
	}

	var matched []*registry.Record
	for _, m := range models {
		record, err := fromModel(&m)
		if err != nil {
			continue
		}
		if registry.HasAnyCapability(record.Capabilities, f.Capabilities) {
			matched = append(matched, record)
		}
	}

	sortRecords(matched, f.OrderByDesc)

	total := len(matched)
	if f.Limit <= 0 {
		return matched, total, nil
	}
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *DatabaseStore) Sweep(ctx context.Context, idleThreshold, offlineThreshold time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&agentModel{}).
			Where("status = ? AND last_seen < ?", string(registry.StatusOnline), idleThreshold).
			Update("status", string(registry.StatusIdle)).Error; err != nil {
			return err
		}
		return tx.Model(&agentModel{}).
			Where("status = ? AND last_seen < ?", string(registry.StatusIdle), offlineThreshold).
			Update("status", string(registry.StatusOffline)).Error
	})
}

func toModel(r *registry.Record) (*agentModel, error) {
	caps, err := json.Marshal(r.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return &agentModel{
		ID:           r.ID,
		Address:      r.Address,
		Capabilities: datatypes.JSON(caps),
		Metadata:     datatypes.JSON(meta),
		Status:       string(r.Status),
		LastSeen:     r.LastSeen,
		CreatedAt:    r.CreatedAt,
	}, nil
}

func fromModel(m *agentModel) (*registry.Record, error) {
	var caps []string
	if len(m.Capabilities) > 0 {
		if err := json.Unmarshal(m.Capabilities, &caps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	var meta map[string]any
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &registry.Record{
		ID:           m.ID,
		Address:      m.Address,
		Capabilities: caps,
		Metadata:     meta,
		Status:       registry.Status(m.Status),
		LastSeen:     m.LastSeen,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func sortRecords(records []*registry.Record, desc bool) {
	sort.Slice(records, func(i, j int) bool {
		if desc {
			return records[i].LastSeen.After(records[j].LastSeen)
		}
		return records[i].LastSeen.Before(records[j].LastSeen)
	})
}
