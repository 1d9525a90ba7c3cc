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

// Package scanner provides the shared, rate-limited lookup of live external
// handles. Process enumeration is expensive, so results are cached in a
// single time bucket: the whole cache is invalidated together after the TTL
// elapses rather than per key. A burst of concurrent lookups across many
// resources therefore costs at most one enumeration per interval.
package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/metrics"
	"github.com/appherd/appherd/pkg/resource"
)

// DefaultTTL is the cache lifetime between full enumerations.
const DefaultTTL = 100 * time.Millisecond

// EnumerateFunc lists every live handle on the host. The default uses
// gopsutil; tests inject fakes.
type EnumerateFunc func(ctx context.Context) ([]resource.Handle, error)

// Scanner caches handle lookups keyed by class key (normalized executable
// name). It implements resource.HandleFinder. A single lock guards the
// cache and its timestamp.
type Scanner struct {
	mu        sync.Mutex
	ttl       time.Duration
	fetchedAt time.Time
	cache     map[string][]resource.Handle
	enumerate EnumerateFunc
	logger    *zap.SugaredLogger
}

// New creates a Scanner. A non-positive ttl selects DefaultTTL; a nil
// enumerate selects the gopsutil-backed process enumeration.
func New(ttl time.Duration, enumerate EnumerateFunc) *Scanner {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if enumerate == nil {
		enumerate = enumerateProcesses
	}

	return &Scanner{
		ttl:       ttl,
		cache:     make(map[string][]resource.Handle),
		enumerate: enumerate,
		logger:    logger.For(logger.ComponentScanner),
	}
}

// NormalizeKey canonicalizes an executable name into a class key. It is the
// same normalization the resource applies when adopting a handle.
func NormalizeKey(name string) string {
	return resource.NormalizeClassKey(name)
}

// Find returns the current live handles whose executable name matches
// classKey. Results come from the shared cache; an expired cache triggers
// exactly one fresh enumeration under the lock.
func (s *Scanner) Find(ctx context.Context, classKey string) ([]resource.Handle, error) {
	key := NormalizeKey(classKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) <= s.ttl {
		metrics.RecordScannerLookup(true)

		return s.cache[key], nil
	}

	handles, err := s.enumerate(ctx)
	if err != nil {
		metrics.RecordScannerLookup(false)

		return nil, err
	}

	fresh := make(map[string][]resource.Handle, len(handles))
	for _, h := range handles {
		k := NormalizeKey(h.Name())
		fresh[k] = append(fresh[k], h)
	}

	s.cache = fresh
	s.fetchedAt = time.Now()
	metrics.RecordScannerLookup(false)
	s.logger.Debugf("Enumerated %d handles across %d classes", len(handles), len(fresh))

	return s.cache[key], nil
}

// Reset drops the cache so the next Find enumerates afresh.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]resource.Handle)
	s.fetchedAt = time.Time{}
}
