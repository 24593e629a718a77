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

// Package storage implements the backends behind registry.Store: an
// in-memory map for single-process deployments and a GORM-backed SQL
// store for durable ones. Both satisfy the three query shapes
// registry.QueryFilter requires: primary-key lookup, filtered scan
// with pagination, and capability set-containment.
package storage

// Config selects and configures a registry.Store backend.
type Config struct {
	Type string // "memory", "postgres", "mysql"
	DSN  string
}
