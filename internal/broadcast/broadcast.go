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

// Package broadcast fans a single application message out to every
// agent matching a discover query, sending independently to each peer
// and aggregating the outcome, per spec.md §4.8. One peer's failure
// never aborts delivery to the others.
package broadcast

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Target is one recipient of a broadcast send.
type Target struct {
	AgentID string
	Address string
}

// Result aggregates the outcome of a broadcast across all targets.
type Result struct {
	Delivered []string
	Failed    []string
	Errors    map[string]error
}

// Send calls sendOne independently, concurrently, for every target and
// aggregates delivered/failed/errors. A failing sendOne for one target
// never prevents the others from running to completion; Send itself
// only returns an error if ctx is already done before any sends start.
func Send(ctx context.Context, targets []Target, sendOne func(ctx context.Context, target Target) error) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Errors: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			err := sendOne(gctx, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, target.AgentID)
				result.Errors[target.AgentID] = err
			} else {
				result.Delivered = append(result.Delivered, target.AgentID)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}
