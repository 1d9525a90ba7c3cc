// Copyright 2025 Appherd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package starvation watches the polling scheduler's health. Workers mark
// every completed update; if no mark arrives within the threshold, the
// checker raises a warning and a prometheus counter. A fully blocked
// scheduler is detected even though none of its own goroutines run, because
// the check happens on an independent background goroutine.
package starvation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/metrics"
)

// DefaultThreshold is the gap after which the scheduler counts as starved.
const DefaultThreshold = 5 * time.Second

// Checker monitors the time since the last completed poll.
type Checker struct {
	lastMark  time.Time
	ctx       context.Context //nolint:containedctx // background service lifecycle
	cancel    context.CancelFunc
	logger    *zap.SugaredLogger
	wg        sync.WaitGroup
	threshold time.Duration
	mutex     sync.RWMutex
}

// NewChecker creates a starvation checker and starts its background
// goroutine, which checks once per second. Callers must Stop it when the
// scheduler shuts down.
func NewChecker(threshold time.Duration) *Checker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	checker := &Checker{
		threshold: threshold,
		lastMark:  time.Now(),
		logger:    logger.For(logger.ComponentStarvationChecker),
		ctx:       ctx,
		cancel:    cancel,
	}

	checker.wg.Add(1)

	go checker.loop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

// loop reports starvation whenever the gap since the last mark exceeds the
// threshold.
func (c *Checker) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mutex.RLock()
			gap := time.Since(c.lastMark)
			c.mutex.RUnlock()

			if gap > c.threshold {
				metrics.AddStarvationTime(gap.Seconds())
				c.logger.Warnf("Polling starvation detected: %.2f seconds since the last completed update", gap.Seconds())
			} else {
				c.logger.Debugf("Polling is healthy, last update completed %.2f seconds ago", gap.Seconds())
			}
		}
	}
}

// Mark records that a poll just completed.
func (c *Checker) Mark() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.lastMark = time.Now()
}

// LastMark returns the time of the most recent completed poll.
func (c *Checker) LastMark() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.lastMark
}

// Stop terminates the background goroutine. Idempotent.
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}
