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

package storage

import (
	"fmt"
	"strings"

	"github.com/m2m-io/m2m/internal/registry"
)

// New creates a registry.Store backend based on config.Type.
func New(config Config) (registry.Store, error) {
	storageType := strings.ToLower(config.Type)
	if storageType == "" {
		storageType = "memory"
	}

	switch storageType {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "mysql":
		store, err := NewDatabaseStore(storageType, config.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}
