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

// Package resource implements the supervised resource: a per-application
// state machine plus an exclusive-operation gateway. One resource wraps one
// external application. Its state is discovered exclusively by the
// collaborator's probe (or by an operation's direct side effect) and every
// public operation is serialized through a single lock, shared with the
// polling scheduler's update path.
package resource

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	internalfsm "github.com/appherd/appherd/internal/fsm"
	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/metrics"
	"github.com/appherd/appherd/pkg/state"
)

// DefaultOperationTimeout bounds the wait for process start and exit
// confirmation. A negative configured timeout waits without bound.
const DefaultOperationTimeout = 1500 * time.Millisecond

// Config holds the immutable identity and tuning of one supervised resource.
type Config[K comparable] struct {
	// Name uniquely identifies the resource within the scheduler.
	Name string

	// ProcessName is the class key used to recognize the resource's
	// external handle, typically the executable name.
	ProcessName string

	// Parameters declares the application's adjustable parameters.
	Parameters []ParamSpec[K]

	// Capabilities flags the optional operations the driver supports.
	Capabilities Capabilities

	// OperationTimeout bounds RunProcess/ExitProcess confirmation waits.
	// Zero means DefaultOperationTimeout; negative means unbounded.
	OperationTimeout time.Duration

	// StartProcess launches the executable at path. Defaults to os/exec.
	// Injectable so tests can simulate launches.
	StartProcess func(ctx context.Context, path string) error

	// RequestExit asks the handle to terminate gracefully. Defaults to
	// Handle.Terminate. Injectable for tests.
	RequestExit func(ctx context.Context, h Handle) error
}

// Change describes one observable transition of a resource, delivered to
// subscribers after every state rewrite.
type Change struct {
	Resource        string
	Previous        state.State
	Current         state.State
	Message         string
	AliveChanged    bool
	OperableChanged bool
	HandleChanged   bool
}

// Resource supervises one external application. All exported methods are
// safe to call from any goroutine concurrently with the scheduler.
type Resource[K comparable] struct {
	cfg      Config[K]
	driver   Driver[K]
	chars    CharacterDriver
	finder   HandleFinder
	params   map[K]ParamSpec[K]
	classKey string

	// opMu is the exclusive operation lock. Exactly one operation,
	// including Update, runs at a time.
	opMu sync.Mutex

	// saving redirects concurrent lockers to a throwaway mutex while a
	// file save publishes its own transitions under opMu. See lock().
	saving atomic.Bool

	// obsMu guards the observable fields below so that state reads never
	// block behind a long-running operation. Writers hold opMu and obsMu;
	// readers take obsMu alone.
	obsMu   sync.RWMutex
	machine *internalfsm.Machine
	message string
	handle  Handle

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	logger *zap.SugaredLogger
}

// New creates a supervised resource in state None.
func New[K comparable](cfg Config[K], driver Driver[K], finder HandleFinder) (*Resource[K], error) {
	if cfg.Name == "" {
		return nil, errors.New("resource name must not be empty")
	}
	if cfg.ProcessName == "" {
		return nil, fmt.Errorf("resource %s needs a process name", cfg.Name)
	}
	if driver == nil {
		return nil, fmt.Errorf("resource %s needs a driver", cfg.Name)
	}
	if finder == nil {
		return nil, fmt.Errorf("resource %s needs a handle finder", cfg.Name)
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.StartProcess == nil {
		cfg.StartProcess = startDetached
	}
	if cfg.RequestExit == nil {
		cfg.RequestExit = func(_ context.Context, h Handle) error { return h.Terminate() }
	}

	var chars CharacterDriver
	if cfg.Capabilities.Characters {
		cd, ok := driver.(CharacterDriver)
		if !ok {
			return nil, fmt.Errorf("resource %s declares characters but its driver does not implement CharacterDriver", cfg.Name)
		}
		chars = cd
	}

	params := make(map[K]ParamSpec[K], len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		params[p.ID] = p
	}

	log := logger.For(logger.ComponentResource).Named(cfg.Name)

	r := &Resource[K]{
		cfg:      cfg,
		driver:   driver,
		chars:    chars,
		finder:   finder,
		params:   params,
		classKey: NormalizeClassKey(cfg.ProcessName),
		machine:  internalfsm.New(cfg.Name, log),
		subs:     make(map[int]func(Change)),
		logger:   log,
	}

	metrics.InitErrorCounter(metrics.ComponentResource, cfg.Name)

	return r, nil
}

// NormalizeClassKey canonicalizes an executable name into the class key used
// to recognize a resource's handles: lowercased, without a trailing ".exe".
func NormalizeClassKey(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

// startDetached is the default process starter.
func startDetached(_ context.Context, path string) error {
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return err
	}

	// The application outlives us; hand the child back to the OS.
	return cmd.Process.Release()
}

// ID returns the resource's unique name.
func (r *Resource[K]) ID() string {
	return r.cfg.Name
}

// ClassKey returns the executable name used for handle discovery.
func (r *Resource[K]) ClassKey() string {
	return r.cfg.ProcessName
}

// State returns the current state. It never blocks behind an in-flight
// operation.
func (r *Resource[K]) State() state.State {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()

	return r.machine.Current()
}

// StateMessage returns the diagnostic message, which is non-empty only when
// the state is Fail.
func (r *Resource[K]) StateMessage() string {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()

	return r.message
}

// IsAlive reports whether the application process is up and past startup.
func (r *Resource[K]) IsAlive() bool {
	return r.State().IsAlive()
}

// CanOperate reports whether operations are currently permitted.
func (r *Resource[K]) CanOperate() bool {
	return r.State().CanOperate()
}

// Handle returns the current external handle, or nil when the state is None.
func (r *Resource[K]) Handle() Handle {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()

	return r.handle
}

// Subscribe registers fn for change notifications and returns a cancel
// function. Notifications are normally delivered outside the operation
// lock; the one exception is the transition into Saving, which is published
// while the save operation still holds it. A subscriber must therefore
// never block on this resource's operations.
func (r *Resource[K]) Subscribe(fn func(Change)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

// notify delivers a change to all subscribers. A nil change is a no-op.
func (r *Resource[K]) notify(ch *Change) {
	if ch == nil {
		return
	}

	r.subMu.Lock()
	fns := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(*ch)
	}
}

// lock acquires the exclusive operation lock and reports whether a file
// save owns the resource right now. While a save is publishing its own
// transitions under the real lock, every other caller is handed a throwaway
// mutex so the save's synchronous notification cannot deadlock. A redirected
// caller must refuse outright and never consult live state: the flag can go
// stale between this read and any later state read, and a caller acting on
// post-save state while holding only the throwaway mutex would run
// concurrently with whoever holds the real lock by then.
func (r *Resource[K]) lock() (func(), bool) {
	if r.saving.Load() {
		dummy := &sync.Mutex{}
		dummy.Lock()

		return dummy.Unlock, true
	}

	r.opMu.Lock()

	return r.opMu.Unlock, false
}

// stateLocked reads the current state. Callers hold opMu (or a save-window
// dummy lock); obsMu still serializes against concurrent readers.
func (r *Resource[K]) stateLocked() state.State {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()

	return r.machine.Current()
}

// handleLocked reads the current handle under obsMu.
func (r *Resource[K]) handleLocked() Handle {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()

	return r.handle
}

// applyStateLocked rewrites the observable state and returns the resulting
// change, or nil when nothing observable moved. The caller holds opMu.
func (r *Resource[K]) applyStateLocked(ctx context.Context, st state.State, msg string, h Handle) *Change {
	// Only Fail carries a diagnostic message.
	if st != state.Fail {
		msg = ""
	} else if msg == "" {
		msg = "the probe could not classify the application state"
	}
	// The handle exists exactly when the application does.
	if st == state.None {
		h = nil
	}

	r.obsMu.Lock()
	prev := r.machine.Current()
	prevMsg := r.message
	prevHandle := r.handle

	if err := r.machine.Observe(ctx, st); err != nil {
		r.obsMu.Unlock()
		r.logger.Errorf("State transition %s -> %s rejected: %v", prev, st, err)

		return nil
	}

	r.message = msg
	r.handle = h
	r.obsMu.Unlock()

	handleChanged := pid(prevHandle) != pid(h)
	if prev == st && prevMsg == msg && !handleChanged {
		return nil
	}

	metrics.UpdateResourceState(r.cfg.Name, st)

	return &Change{
		Resource:        r.cfg.Name,
		Previous:        prev,
		Current:         st,
		Message:         msg,
		AliveChanged:    prev.IsAlive() != st.IsAlive(),
		OperableChanged: prev.CanOperate() != st.CanOperate(),
		HandleChanged:   handleChanged,
	}
}

// pid maps a possibly-nil handle to its process id, 0 for nil.
func pid(h Handle) int32 {
	if h == nil {
		return 0
	}

	return h.Pid()
}

// refreshLocked locates the handle, probes it and rewrites the state.
// With nil candidates it consults the injected finder; otherwise it filters
// the supplied candidates, which lets the scheduler amortize discovery
// across many resources. The caller holds opMu.
func (r *Resource[K]) refreshLocked(ctx context.Context, candidates []Handle) (state.State, *Change, error) {
	var (
		handles []Handle
		err     error
	)

	if candidates == nil {
		handles, err = r.finder.Find(ctx, r.cfg.ProcessName)
		if err != nil {
			return r.stateLocked(), nil, fmt.Errorf("handle discovery for %s failed: %w", r.cfg.Name, err)
		}
	} else {
		handles = candidates
	}

	h := r.pickHandle(handles)
	if h == nil {
		ch := r.applyStateLocked(ctx, state.None, "", nil)

		return state.None, ch, nil
	}

	st, msg, probeErr := r.driver.Probe(ctx, h)
	if probeErr != nil {
		ch := r.applyStateLocked(ctx, state.Fail, probeErr.Error(), h)

		return state.Fail, ch, fmt.Errorf("probe for %s failed: %w", r.cfg.Name, probeErr)
	}
	if !st.Valid() {
		ch := r.applyStateLocked(ctx, state.Fail, fmt.Sprintf("probe returned unknown state %d", st), h)

		return state.Fail, ch, nil
	}

	ch := r.applyStateLocked(ctx, st, msg, h)

	return st, ch, nil
}

// pickHandle selects the first live handle of the resource's class. Handles
// of a foreign class are skipped even when the caller pre-filtered, so an
// unfiltered enumeration can never bind the resource to the wrong process.
func (r *Resource[K]) pickHandle(handles []Handle) Handle {
	for _, h := range handles {
		if h == nil {
			continue
		}
		if NormalizeClassKey(h.Name()) != r.classKey {
			continue
		}
		running, err := h.IsRunning()
		if err != nil || !running {
			continue
		}

		return h
	}

	return nil
}

// Update refreshes the resource's state from the outside world. The
// scheduler calls it with pre-fetched candidate handles; direct callers may
// pass nil to use the injected finder. Change notifications fire after the
// lock is released. While a file save is in flight the update is suppressed
// entirely, because the saving operation owns every transition until it
// finishes.
func (r *Resource[K]) Update(ctx context.Context, candidates []Handle) (state.State, error) {
	if r.saving.Load() {
		return r.State(), nil
	}

	start := time.Now()

	r.opMu.Lock()
	st, ch, err := r.refreshLocked(ctx, candidates)
	r.opMu.Unlock()

	metrics.ObserveUpdateTime(metrics.ComponentResource, r.cfg.Name, time.Since(start))
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentResource, r.cfg.Name, err, r.logger)
	}

	r.notify(ch)

	return st, err
}
