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

// Package scheduler keeps every registered resource's state fresh without
// unbounded concurrency. A bounded pool of worker loops round-robins over
// the registry, fetches candidate handles from the shared scanner and calls
// each resource's update routine. The pool grows and shrinks with the
// registry, capped by the configured limit. One resource's fault never
// stops a worker or another resource; it is recorded per resource and
// throttled by a failure tracker.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/backoff"
	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/metrics"
	"github.com/appherd/appherd/pkg/resource"
	"github.com/appherd/appherd/pkg/starvation"
	"github.com/appherd/appherd/pkg/state"
)

const (
	// MinPoolLimit and MaxPoolLimit bound the worker pool size.
	MinPoolLimit = 1
	MaxPoolLimit = 1024

	// DefaultPollInterval is the per-resource sleep between updates.
	DefaultPollInterval = 15 * time.Millisecond

	// DefaultUpdateTimeout bounds a single update call.
	DefaultUpdateTimeout = time.Second
)

// Supervised is the scheduler's view of a resource. resource.Resource
// implements it for any parameter-id type.
type Supervised interface {
	ID() string
	ClassKey() string
	Update(ctx context.Context, candidates []resource.Handle) (state.State, error)
	State() state.State
	StateMessage() string
	Handle() resource.Handle
}

// Config tunes a Scheduler.
type Config struct {
	// PoolLimit caps the worker pool, clamped into [MinPoolLimit,
	// MaxPoolLimit]. Zero derives the default from the runtime's
	// processor count.
	PoolLimit int

	// PollInterval is the sleep each worker takes after updating one
	// resource. Zero selects DefaultPollInterval.
	PollInterval time.Duration

	// UpdateTimeout bounds each update call. Zero selects
	// DefaultUpdateTimeout.
	UpdateTimeout time.Duration

	// StarvationThreshold configures the health watchdog. Zero selects
	// the watchdog's default.
	StarvationThreshold time.Duration
}

// worker is one polling loop of the pool.
type worker struct {
	id     string
	cancel func()
	done   chan struct{}
}

// Scheduler polls all registered resources with a bounded worker pool.
type Scheduler struct {
	cfg    Config
	finder resource.HandleFinder
	logger *zap.SugaredLogger

	// mu guards the registry, the round-robin cursor and the worker list.
	// Workers are cancelled and awaited strictly outside this lock.
	mu       sync.Mutex
	registry []Supervised
	cursor   int
	workers  []*worker
	closed   bool

	// trackMu guards the per-resource failure trackers independently of
	// mu, so reading a resource's last error never contends with polling.
	trackMu  sync.RWMutex
	trackers map[string]*backoff.Tracker

	checker *starvation.Checker
}

// New creates a Scheduler polling through finder (normally the shared
// scanner). The scheduler registers itself as a debug status provider and
// must be released with Close.
func New(cfg Config, finder resource.HandleFinder) *Scheduler {
	if cfg.PoolLimit == 0 {
		cfg.PoolLimit = runtime.GOMAXPROCS(0)
	}
	if cfg.PoolLimit < MinPoolLimit {
		cfg.PoolLimit = MinPoolLimit
	}
	if cfg.PoolLimit > MaxPoolLimit {
		cfg.PoolLimit = MaxPoolLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = DefaultUpdateTimeout
	}

	s := &Scheduler{
		cfg:      cfg,
		finder:   finder,
		logger:   logger.For(logger.ComponentScheduler),
		trackers: make(map[string]*backoff.Tracker),
		checker:  starvation.NewChecker(cfg.StarvationThreshold),
	}

	metrics.InitErrorCounter(metrics.ComponentScheduler, "main")
	metrics.RegisterStatusProvider("scheduler", s)

	return s
}

// Register adds a resource to the polling registry and grows the worker
// pool up to min(poolLimit, registry size). It returns false if the
// resource is already registered or the scheduler is closed.
func (s *Scheduler) Register(res Supervised) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	for _, existing := range s.registry {
		if existing.ID() == res.ID() {
			return false
		}
	}

	s.registry = append(s.registry, res)

	s.trackMu.Lock()
	s.trackers[res.ID()] = backoff.NewTracker(backoff.DefaultConfig(res.ID(), s.logger))
	s.trackMu.Unlock()

	s.growLocked()
	s.logger.Infof("Registered resource %s (registry size %d, pool size %d)", res.ID(), len(s.registry), len(s.workers))

	return true
}

// Unregister removes a resource and shrinks the worker pool down to
// min(poolLimit, registry size). Excess workers are cancelled and awaited
// outside the registry lock. It returns false if the resource is unknown.
func (s *Scheduler) Unregister(res Supervised) bool {
	s.mu.Lock()

	idx := -1
	for i, existing := range s.registry {
		if existing.ID() == res.ID() {
			idx = i

			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()

		return false
	}

	s.registry = append(s.registry[:idx], s.registry[idx+1:]...)
	// Keep the round-robin sweep aligned when the removed entry preceded
	// the cursor.
	if idx < s.cursor {
		s.cursor--
	}
	if s.cursor >= len(s.registry) {
		s.cursor = 0
	}

	victims := s.shrinkLocked()
	size := len(s.workers)
	s.mu.Unlock()

	// Cancel-then-join must happen without holding mu: a worker blocked
	// on s.next() would otherwise never observe the cancellation.
	for _, w := range victims {
		w.cancel()
	}
	for _, w := range victims {
		<-w.done
	}

	s.trackMu.Lock()
	delete(s.trackers, res.ID())
	s.trackMu.Unlock()

	s.logger.Infof("Unregistered resource %s (pool size %d)", res.ID(), size)

	return true
}

// GetLastError returns the most recent error recorded for the resource's
// update routine, or nil.
func (s *Scheduler) GetLastError(res Supervised) error {
	s.trackMu.RLock()
	defer s.trackMu.RUnlock()

	tr, ok := s.trackers[res.ID()]
	if !ok {
		return nil
	}

	return tr.LastError()
}

// Len returns the number of registered resources.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.registry)
}

// PoolSize returns the current number of workers.
func (s *Scheduler) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.workers)
}

// growLocked raises the pool to min(poolLimit, registry size).
// The caller holds mu.
func (s *Scheduler) growLocked() {
	target := len(s.registry)
	if target > s.cfg.PoolLimit {
		target = s.cfg.PoolLimit
	}
	for len(s.workers) < target {
		s.spawnLocked()
	}

	metrics.SetPoolSize(len(s.workers))
}

// shrinkLocked lowers the pool to min(poolLimit, registry size) and returns
// the removed workers for the caller to cancel and await outside mu.
func (s *Scheduler) shrinkLocked() []*worker {
	target := len(s.registry)
	if target > s.cfg.PoolLimit {
		target = s.cfg.PoolLimit
	}

	var victims []*worker
	for len(s.workers) > target {
		last := len(s.workers) - 1
		victims = append(victims, s.workers[last])
		s.workers = s.workers[:last]
	}

	metrics.SetPoolSize(len(s.workers))

	return victims
}

// Close stops every worker, clears the registry and trackers, and releases
// the health watchdog. It is idempotent and safe to call from deferred
// cleanup paths; it never re-enters user code.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}
	s.closed = true
	victims := s.workers
	s.workers = nil
	s.registry = nil
	s.cursor = 0
	s.mu.Unlock()

	for _, w := range victims {
		w.cancel()
	}
	for _, w := range victims {
		<-w.done
	}

	s.trackMu.Lock()
	s.trackers = make(map[string]*backoff.Tracker)
	s.trackMu.Unlock()

	s.checker.Stop()
	metrics.UnregisterStatusProvider("scheduler")
	metrics.SetPoolSize(0)
	s.logger.Info("Scheduler closed")
}

// ResourceStatus is one resource's entry in a scheduler snapshot.
type ResourceStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	Alive     bool   `json:"alive"`
	Operable  bool   `json:"operable"`
	Pid       int32  `json:"pid,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time view of the scheduler, safe to hand to
// external consumers.
type Snapshot struct {
	TakenAt   time.Time                 `json:"taken_at"`
	PoolSize  int                       `json:"pool_size"`
	Resources map[string]ResourceStatus `json:"resources"`
}

// Snapshot builds a deep-copied status view of every registered resource.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	registry := make([]Supervised, len(s.registry))
	copy(registry, s.registry)
	poolSize := len(s.workers)
	s.mu.Unlock()

	snap := Snapshot{
		TakenAt:   time.Now(),
		PoolSize:  poolSize,
		Resources: make(map[string]ResourceStatus, len(registry)),
	}

	for _, res := range registry {
		st := res.State()
		status := ResourceStatus{
			Name:     res.ID(),
			State:    st.String(),
			Message:  res.StateMessage(),
			Alive:    st.IsAlive(),
			Operable: st.CanOperate(),
		}
		if h := res.Handle(); h != nil {
			status.Pid = h.Pid()
		}
		if err := s.GetLastError(res); err != nil {
			status.LastError = err.Error()
		}
		snap.Resources[res.ID()] = status
	}

	var out Snapshot
	if err := deepcopy.Copy(&out, &snap); err != nil {
		s.logger.Errorf("Failed to deep copy snapshot: %v", err)

		return snap
	}

	return out
}

// StatusView implements metrics.StatusProvider.
func (s *Scheduler) StatusView() any {
	return s.Snapshot()
}
