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

// Package metrics exposes prometheus instrumentation for the supervision
// core: per-resource error counters, update timings, state gauges, scanner
// cache effectiveness and scheduler health. It also serves a JSON dump of
// every registered resource's status on /debug/resources.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/state"
)

const (
	// Component labels.
	ComponentScheduler         = "scheduler"
	ComponentScanner           = "scanner"
	ComponentResource          = "resource"
	ComponentStarvationChecker = "starvation_checker"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "appherd"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Update timing.
	updateTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "update_duration_milliseconds",
			Help:      "Time taken to update a resource's observed state (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	// Starvation timer.
	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_starved_total_seconds",
			Help:      "Total seconds the polling scheduler was starved",
		},
	)

	// Resource state gauge.
	resourceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resource_state",
			Help:      "Current state of the resource (0=none, 1=fail, 2=startup, 3=cleanup, 4=idle, 5=active, 6=blocking, 7=saving)",
		},
		[]string{"instance"},
	)

	// Scanner cache effectiveness.
	scannerLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scanner_lookups_total",
			Help:      "Total number of handle lookups by cache outcome",
		},
		[]string{"cached"},
	)

	// Worker pool size.
	poolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_pool_size",
			Help:      "Current number of polling workers",
		},
	)
)

// StatusProvider supplies the JSON-serializable status view served on the
// debug endpoint. The scheduler implements this.
type StatusProvider interface {
	StatusView() any
}

// statusRegistry holds registered status providers.
var statusRegistry struct {
	providers map[string]StatusProvider
	mu        sync.RWMutex
}

// RegisterStatusProvider registers a provider for the /debug/resources
// endpoint. Call this after creating a scheduler.
func RegisterStatusProvider(name string, provider StatusProvider) {
	statusRegistry.mu.Lock()
	defer statusRegistry.mu.Unlock()

	if statusRegistry.providers == nil {
		statusRegistry.providers = make(map[string]StatusProvider)
	}

	statusRegistry.providers[name] = provider
}

// UnregisterStatusProvider removes a provider, typically during shutdown.
func UnregisterStatusProvider(name string) {
	statusRegistry.mu.Lock()
	defer statusRegistry.mu.Unlock()

	delete(statusRegistry.providers, name)
}

// handleResourceDebug handles the /debug/resources endpoint.
func handleResourceDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

		return
	}

	statusRegistry.mu.RLock()
	defer statusRegistry.mu.RUnlock()

	response := make(map[string]any, len(statusRegistry.providers))
	for name, provider := range statusRegistry.providers {
		response[name] = provider.StatusView()
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(response); err != nil {
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics and
// /debug/resources. This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/resources", handleResourceDebug)

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For(logger.ComponentMetrics).Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and logs
// a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if log != nil {
		log.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveUpdateTime records the time taken for one resource update.
func ObserveUpdateTime(component, instance string, duration time.Duration) {
	updateTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// UpdateResourceState sets the state gauge for an instance.
func UpdateResourceState(instance string, st state.State) {
	resourceState.WithLabelValues(instance).Set(float64(st))
}

// RecordScannerLookup counts one handle lookup and whether it was served
// from the cache.
func RecordScannerLookup(cached bool) {
	cachedStr := "false"
	if cached {
		cachedStr = "true"
	}

	scannerLookups.WithLabelValues(cachedStr).Inc()
}

// SetPoolSize records the current polling worker count.
func SetPoolSize(n int) {
	poolSize.Set(float64(n))
}
