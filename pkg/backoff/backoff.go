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

// Package backoff tracks repeated failures of a single supervised resource
// and tells the scheduler when to skip polling it. Transient errors put the
// resource into exponential backoff; after the retry limit they escalate to
// a permanent failure that stops polling entirely until Reset.
package backoff

import (
	"fmt"
	"sync"
	"time"

	exponential "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the number of consecutive transient failures
	// tolerated before the tracker declares a permanent failure.
	DefaultMaxRetries = 10

	// DefaultInitialInterval is the first backoff delay.
	DefaultInitialInterval = 100 * time.Millisecond

	// DefaultMaxInterval caps the exponential growth of the delay.
	DefaultMaxInterval = 10 * time.Second
)

// Config holds parameters for a failure Tracker.
type Config struct {
	// ID names the tracked resource, used in log lines and error text.
	ID string

	// MaxRetries is the consecutive-failure budget before permanent failure.
	MaxRetries uint64

	// InitialInterval and MaxInterval bound the exponential delay.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Logger *zap.SugaredLogger
}

// DefaultConfig returns a Config with the standard retry budget and delays.
func DefaultConfig(id string, logger *zap.SugaredLogger) Config {
	return Config{
		ID:              id,
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Logger:          logger,
	}
}

// Tracker records the failure history of one resource. All methods are safe
// for concurrent use; the scheduler reads a tracker from any worker while a
// caller may inspect the last error through the resource's public API.
type Tracker struct {
	cfg Config

	mu          sync.Mutex
	lastErr     error
	failures    uint64
	retryAt     time.Time
	permanently bool
	expo        *exponential.ExponentialBackOff
}

// NewTracker creates a Tracker from cfg, filling in defaults for zero fields.
func NewTracker(cfg Config) *Tracker {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}

	expo := exponential.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialInterval
	expo.MaxInterval = cfg.MaxInterval
	// The tracker decides when to give up; the underlying policy never stops.
	expo.MaxElapsedTime = 0
	expo.Reset()

	return &Tracker{cfg: cfg, expo: expo}
}

// SetError records a failed update and returns true when the failure budget
// is exhausted and the tracker has entered permanent failure.
func (t *Tracker) SetError(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if IsIgnoredError(err) {
		return t.permanently
	}

	t.lastErr = err
	t.failures++

	if IsPermanentError(err) || t.failures >= t.cfg.MaxRetries {
		t.permanently = true
		if t.cfg.Logger != nil {
			t.cfg.Logger.Errorf("Resource %s entered permanent failure after %d attempts: %v", t.cfg.ID, t.failures, err)
		}

		return true
	}

	delay := t.expo.NextBackOff()
	t.retryAt = time.Now().Add(delay)
	if t.cfg.Logger != nil {
		t.cfg.Logger.Debugf("Resource %s backing off %s after failure %d/%d: %v", t.cfg.ID, delay, t.failures, t.cfg.MaxRetries, err)
	}

	return false
}

// ShouldSkip reports whether the scheduler should skip the resource right
// now, either because a backoff delay has not yet elapsed or because the
// tracker is permanently failed.
func (t *Tracker) ShouldSkip() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.permanently {
		return true
	}

	return time.Now().Before(t.retryAt)
}

// BackoffError returns a structured error describing the current backoff
// situation, or nil when the tracker is clean.
func (t *Tracker) BackoffError() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.permanently:
		return fmt.Errorf("resource %s permanently failed after %d attempts: %w", t.cfg.ID, t.failures, t.lastErr)
	case t.lastErr != nil:
		return fmt.Errorf("resource %s in backoff until %s: %w", t.cfg.ID, t.retryAt.Format(time.RFC3339Nano), t.lastErr)
	default:
		return nil
	}
}

// LastError returns the most recent recorded error, or nil.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastErr
}

// IsPermanentlyFailed reports whether the failure budget has been exhausted.
func (t *Tracker) IsPermanentlyFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.permanently
}

// Reset clears the failure history after a successful update.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastErr = nil
	t.failures = 0
	t.retryAt = time.Time{}
	t.permanently = false
	t.expo.Reset()
}
