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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appherd/appherd/pkg/backoff"
	"github.com/appherd/appherd/pkg/metrics"
	"github.com/appherd/appherd/pkg/resource"
)

// spawnLocked adds one worker to the pool and starts its loop. The caller
// holds mu.
func (s *Scheduler) spawnLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		id:     uuid.NewString()[:8],
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.workers = append(s.workers, w)

	go s.run(ctx, w)
}

// run is a worker loop: pick the next resource round-robin, update it, sleep
// one interval, repeat until cancelled. No scheduler lock is held while the
// resource's update routine runs.
func (s *Scheduler) run(ctx context.Context, w *worker) {
	defer close(w.done)

	s.logger.Debugf("Worker %s started", w.id)
	defer s.logger.Debugf("Worker %s stopped", w.id)

	for {
		if ctx.Err() != nil {
			return
		}

		res := s.next()
		if res != nil {
			s.poll(ctx, w, res)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// next advances the round-robin cursor and returns the resource at it, or
// nil when the registry is empty.
func (s *Scheduler) next() Supervised {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.registry) == 0 {
		return nil
	}
	if s.cursor >= len(s.registry) {
		s.cursor = 0
	}

	res := s.registry[s.cursor]
	s.cursor++

	return res
}

// poll refreshes one resource: look up its candidate handles through the
// shared finder, then hand them to the resource's update routine. Failures
// are recorded per resource and throttled by its tracker; a success resets
// the tracker and marks the health watchdog.
func (s *Scheduler) poll(ctx context.Context, w *worker, res Supervised) {
	tr := s.tracker(res.ID())
	if tr != nil && tr.ShouldSkip() {
		return
	}

	start := time.Now()
	updateCtx, cancel := context.WithTimeout(ctx, s.cfg.UpdateTimeout)
	defer cancel()

	candidates, err := s.finder.Find(updateCtx, res.ClassKey())
	if err != nil {
		s.recordFailure(w, res, tr, fmt.Errorf("handle lookup failed: %w", err))

		return
	}
	if candidates == nil {
		// A nil slice would make the resource fall back to its own
		// finder; the scanner's empty answer is authoritative here.
		candidates = []resource.Handle{}
	}

	if err := s.safeUpdate(updateCtx, res, candidates); err != nil {
		s.recordFailure(w, res, tr, err)

		return
	}

	if tr != nil {
		tr.Reset()
	}
	s.checker.Mark()
	metrics.ObserveUpdateTime(metrics.ComponentScheduler, res.ID(), time.Since(start))
}

// safeUpdate calls the resource's update routine, converting a panic into an
// error so one faulty driver cannot take down the worker.
func (s *Scheduler) safeUpdate(ctx context.Context, res Supervised, candidates []resource.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.NewPermanentError(fmt.Errorf("update panicked: %v", r))
		}
	}()

	_, err = res.Update(ctx, candidates)

	return err
}

// recordFailure stores the error on the resource's tracker and emits the
// error metric. The tracker decides whether subsequent sweeps skip the
// resource and when it becomes permanently failed.
func (s *Scheduler) recordFailure(w *worker, res Supervised, tr *backoff.Tracker, err error) {
	metrics.IncErrorCount(metrics.ComponentScheduler, res.ID())

	if tr == nil {
		s.logger.Warnf("Worker %s: update of %s failed: %v", w.id, res.ID(), err)

		return
	}

	if tr.SetError(err) {
		s.logger.Errorf("Worker %s: resource %s permanently failed: %v", w.id, res.ID(), err)
	} else {
		s.logger.Warnf("Worker %s: update of %s failed, backing off: %v", w.id, res.ID(), err)
	}
}

// tracker returns the resource's failure tracker, or nil if the resource was
// unregistered concurrently.
func (s *Scheduler) tracker(id string) *backoff.Tracker {
	s.trackMu.RLock()
	defer s.trackMu.RUnlock()

	return s.trackers[id]
}
