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

package resource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	exponential "github.com/cenkalti/backoff/v4"

	"github.com/appherd/appherd/pkg/result"
	"github.com/appherd/appherd/pkg/state"
)

// ExitOutcome is the tri-state result of ExitProcess.
type ExitOutcome int

const (
	// ExitFailed means the exit could not be performed or confirmed.
	ExitFailed ExitOutcome = iota
	// ExitConfirmed means the application was observed to have exited.
	ExitConfirmed
	// ExitDeferred means the exit was requested but the application vetoed
	// or postponed it, observed as Blocking or Saving after the wait.
	ExitDeferred
)

// String returns the lowercase name of the outcome.
func (o ExitOutcome) String() string {
	switch o {
	case ExitConfirmed:
		return "confirmed"
	case ExitDeferred:
		return "deferred"
	default:
		return "failed"
	}
}

// errStillWaiting drives the confirmation polls in RunProcess/ExitProcess.
var errStillWaiting = errors.New("still waiting for a confirmable state")

// gateLocked checks CanOperate and returns the handle, or the refusal
// message. The caller holds the operation lock.
func (r *Resource[K]) gateLocked() (Handle, string) {
	st := r.stateLocked()
	if !st.CanOperate() {
		return nil, st.GateMessage()
	}

	return r.handleLocked(), ""
}

// GetText reads the application's working text.
func (r *Resource[K]) GetText(ctx context.Context) result.Result[string] {
	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[string]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[string]("%s", refusal)
	}

	text, err := r.driver.GetText(ctx, h)
	if err != nil {
		return result.Fail[string]("%s", err.Error())
	}

	return result.OK(text)
}

// SetText replaces the application's working text.
func (r *Resource[K]) SetText(ctx context.Context, text string) result.Result[bool] {
	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[bool]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[bool]("%s", refusal)
	}

	if err := r.driver.SetText(ctx, h, text); err != nil {
		return result.Fail[bool]("%s", err.Error())
	}

	return result.OK(true)
}

// GetParameters reads parameter values. With no ids, every declared
// parameter is read; unknown ids are silently ignored.
func (r *Resource[K]) GetParameters(ctx context.Context, ids ...K) result.Result[map[K]float64] {
	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[map[K]float64]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[map[K]float64]("%s", refusal)
	}

	known := make([]K, 0, len(r.params))
	if len(ids) == 0 {
		for _, p := range r.cfg.Parameters {
			known = append(known, p.ID)
		}
	} else {
		for _, id := range ids {
			if _, ok := r.params[id]; ok {
				known = append(known, id)
			}
		}
	}

	values, err := r.driver.GetParameters(ctx, h, known)
	if err != nil {
		return result.Fail[map[K]float64]("%s", err.Error())
	}

	return result.OK(values)
}

// formatParam renders a parameter value at the spec's decimal precision.
func formatParam[K comparable](spec ParamSpec[K], v float64) string {
	return strconv.FormatFloat(v, 'f', spec.Digits, 64)
}

// SetParameters validates and writes parameter values. Unknown ids are
// silently ignored; an out-of-range value fails the whole call with the
// offending bound and value, before any hook runs.
func (r *Resource[K]) SetParameters(ctx context.Context, values map[K]float64) result.Result[map[K]bool] {
	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[map[K]bool]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[map[K]bool]("%s", refusal)
	}

	validated := make(map[K]float64, len(values))
	for id, v := range values {
		spec, ok := r.params[id]
		if !ok {
			continue
		}
		if v < spec.Min || v > spec.Max {
			return result.Fail[map[K]bool](
				"parameter %s value %s is out of range [%s, %s]",
				spec.Name, formatParam(spec, v), formatParam(spec, spec.Min), formatParam(spec, spec.Max))
		}
		validated[id] = v
	}

	if len(validated) == 0 {
		return result.OK(map[K]bool{})
	}

	applied, err := r.driver.SetParameters(ctx, h, validated)
	if err != nil {
		return result.Fail[map[K]bool]("%s", err.Error())
	}

	return result.OK(applied)
}

// GetCharacter returns the currently selected character.
func (r *Resource[K]) GetCharacter(ctx context.Context) result.Result[string] {
	if !r.cfg.Capabilities.Characters {
		return result.Fail[string]("%s does not support character selection", r.cfg.Name)
	}

	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[string]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[string]("%s", refusal)
	}

	name, err := r.chars.GetCharacter(ctx, h)
	if err != nil {
		return result.Fail[string]("%s", err.Error())
	}

	return result.OK(name)
}

// SetCharacter selects a character by name.
func (r *Resource[K]) SetCharacter(ctx context.Context, name string) result.Result[bool] {
	if !r.cfg.Capabilities.Characters {
		return result.Fail[bool]("%s does not support character selection", r.cfg.Name)
	}

	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[bool]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[bool]("%s", refusal)
	}

	if err := r.chars.SetCharacter(ctx, h, name); err != nil {
		return result.Fail[bool]("%s", err.Error())
	}

	return result.OK(true)
}

// GetAvailableCharacters lists the selectable characters.
func (r *Resource[K]) GetAvailableCharacters(ctx context.Context) result.Result[[]string] {
	if !r.cfg.Capabilities.Characters {
		return result.Fail[[]string]("%s does not support character selection", r.cfg.Name)
	}

	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[[]string]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[[]string]("%s", refusal)
	}

	names, err := r.chars.AvailableCharacters(ctx, h)
	if err != nil {
		return result.Fail[[]string]("%s", err.Error())
	}

	return result.OK(names)
}

// Speak starts the application's primary action. If the application is
// already Active, the current action is stopped first; a failing stop
// aborts the call. Speak returns once the start is confirmed, then
// re-probes the state.
func (r *Resource[K]) Speak(ctx context.Context) result.Result[bool] {
	rawUnlock, busy := r.lock()
	unlock := sync.OnceFunc(rawUnlock)
	defer unlock()

	if busy {
		return result.Fail[bool]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[bool]("%s", refusal)
	}

	if r.stateLocked() == state.Active {
		if err := r.driver.Stop(ctx, h); err != nil {
			return result.Fail[bool]("could not stop the current action first: %s", err.Error())
		}
	}

	if err := r.driver.Speak(ctx, h); err != nil {
		return result.Fail[bool]("%s", err.Error())
	}

	_, ch, _ := r.refreshLocked(ctx, []Handle{h})
	unlock()
	r.notify(ch)

	return result.OK(true)
}

// Stop halts the primary action. Stopping an already-Idle application is a
// successful no-op that invokes no hook.
func (r *Resource[K]) Stop(ctx context.Context) result.Result[bool] {
	rawUnlock, busy := r.lock()
	unlock := sync.OnceFunc(rawUnlock)
	defer unlock()

	if busy {
		return result.Fail[bool]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[bool]("%s", refusal)
	}

	if r.stateLocked() == state.Idle {
		return result.Note(true, "the application is already stopped")
	}

	if err := r.driver.Stop(ctx, h); err != nil {
		return result.Fail[bool]("%s", err.Error())
	}

	_, ch, _ := r.refreshLocked(ctx, []Handle{h})
	unlock()
	r.notify(ch)

	return result.OK(true)
}

// SaveFile exports the current content to path and returns the resolved
// path actually written. The transition into Saving is published while the
// operation lock is held, so downstream observers see Saving before the
// slow export begins; concurrent callers are redirected to throwaway locks
// and refused outright for the whole window.
func (r *Resource[K]) SaveFile(ctx context.Context, path string) result.Result[string] {
	if path == "" {
		return result.Fail[string]("no save path was given")
	}

	rawUnlock, busy := r.lock()
	unlock := sync.OnceFunc(rawUnlock)
	defer unlock()

	if busy {
		return result.Fail[string]("%s", state.Saving.GateMessage())
	}

	h, refusal := r.gateLocked()
	if refusal != "" {
		return result.Fail[string]("%s", refusal)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return result.Fail[string]("invalid save path %q: %s", path, err.Error())
	}

	if r.stateLocked() == state.Active {
		if err := r.driver.Stop(ctx, h); err != nil {
			return result.Fail[string]("could not stop the current action first: %s", err.Error())
		}
	}

	if !r.cfg.Capabilities.AllowBlankSave {
		text, err := r.driver.GetText(ctx, h)
		if err != nil {
			return result.Fail[string]("could not read the current text: %s", err.Error())
		}
		if strings.TrimSpace(text) == "" {
			return result.Fail[string]("blank text cannot be saved")
		}
	}

	// Enter Saving and publish synchronously: observers must see Saving
	// before the export starts. From here until finishSave the saving flag
	// redirects every other caller away from the real lock.
	enterCh := r.applyStateLocked(ctx, state.Saving, "", h)
	r.saving.Store(true)
	r.notify(enterCh)

	// The initiator owns the transition out of Saving, on every path.
	finishSave := func() *Change {
		_, ch, _ := r.refreshLocked(ctx, []Handle{h})
		r.saving.Store(false)

		return ch
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		exitCh := finishSave()
		unlock()
		r.notify(exitCh)

		return result.Fail[string]("could not create directory %q: %s", dir, err.Error())
	}
	if err := probeWritable(dir); err != nil {
		exitCh := finishSave()
		unlock()
		r.notify(exitCh)

		return result.Fail[string]("directory %q is not writable: %s", dir, err.Error())
	}

	saved, saveErr := r.driver.SaveFile(ctx, h, abs)

	exitCh := finishSave()
	unlock()
	r.notify(exitCh)

	if saveErr != nil {
		return result.Fail[string]("%s", saveErr.Error())
	}
	if saved == "" {
		saved = abs
	}

	return result.OK(saved)
}

// probeWritable verifies write permission with a scratch file.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".appherd-probe-*")
	if err != nil {
		return err
	}

	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}

	return os.Remove(name)
}

// waitContext derives the bounded confirmation-wait context. A negative
// configured timeout waits without bound.
func (r *Resource[K]) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.OperationTimeout < 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.cfg.OperationTimeout)
}

// waitPolicy is the poll pacing for start/exit confirmation.
func waitPolicy(ctx context.Context) exponential.BackOffContext {
	expo := exponential.NewExponentialBackOff()
	expo.InitialInterval = 10 * time.Millisecond
	expo.MaxInterval = 100 * time.Millisecond
	expo.MaxElapsedTime = 0

	return exponential.WithContext(expo, ctx)
}

// RunProcess starts the application's executable and waits, bounded by the
// configured timeout, until a confirmable state is observed. Running it
// while the application is already up is a successful no-op.
func (r *Resource[K]) RunProcess(ctx context.Context, path string) result.Result[bool] {
	if path == "" {
		return result.Fail[bool]("no executable path was given")
	}

	rawUnlock, busy := r.lock()
	unlock := sync.OnceFunc(rawUnlock)
	defer unlock()

	if busy {
		return result.Fail[bool]("%s", state.Saving.GateMessage())
	}

	st := r.stateLocked()
	switch {
	case st == state.Fail:
		return result.Fail[bool]("%s", st.GateMessage())
	case st != state.None:
		return result.Note(true, "the application is already running")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return result.Fail[bool]("invalid executable path %q: %s", path, err.Error())
	}
	info, err := os.Stat(abs)
	if err != nil {
		return result.Fail[bool]("executable not found at %q", abs)
	}
	if info.IsDir() {
		return result.Fail[bool]("%q is a directory, not an executable", abs)
	}

	if err := r.cfg.StartProcess(ctx, abs); err != nil {
		return result.Fail[bool]("could not start %q: %s", abs, err.Error())
	}

	waitCtx, cancel := r.waitContext(ctx)
	defer cancel()

	changes := make([]*Change, 0, 4)
	waitErr := exponential.Retry(func() error {
		st, ch, err := r.refreshLocked(waitCtx, nil)
		if ch != nil {
			changes = append(changes, ch)
		}
		if err != nil {
			return exponential.Permanent(err)
		}
		if !st.IsAlive() {
			return errStillWaiting
		}

		return nil
	}, waitPolicy(waitCtx))

	last := r.stateLocked()
	unlock()
	for _, ch := range changes {
		r.notify(ch)
	}

	if waitErr != nil {
		if errors.Is(waitErr, errStillWaiting) || errors.Is(waitErr, context.DeadlineExceeded) {
			return result.Note(last.IsAlive(), "timed out waiting for the application to start")
		}

		return result.Fail[bool]("%s", waitErr.Error())
	}

	return result.OK(true)
}

// ExitProcess requests graceful termination and waits, bounded by the
// configured timeout, for confirmation. The outcome is tri-state: confirmed,
// deferred (the application vetoed or postponed the exit, observed as
// Blocking or Saving), or failed.
func (r *Resource[K]) ExitProcess(ctx context.Context) result.Result[ExitOutcome] {
	rawUnlock, busy := r.lock()
	unlock := sync.OnceFunc(rawUnlock)
	defer unlock()

	if busy {
		return result.Fail[ExitOutcome]("%s", state.Saving.GateMessage())
	}

	st := r.stateLocked()
	switch st {
	case state.None:
		return result.Note(ExitConfirmed, "the application is not running")
	case state.Fail, state.Blocking, state.Saving:
		return result.Fail[ExitOutcome]("%s", st.GateMessage())
	}

	h := r.handleLocked()

	if en, ok := r.driver.(ExitNotifier); ok {
		en.OnExiting(ctx, h)
	}

	if err := r.cfg.RequestExit(ctx, h); err != nil {
		return result.Fail[ExitOutcome]("could not request exit: %s", err.Error())
	}

	waitCtx, cancel := r.waitContext(ctx)
	defer cancel()

	changes := make([]*Change, 0, 4)
	waitErr := exponential.Retry(func() error {
		st, ch, err := r.refreshLocked(waitCtx, nil)
		if ch != nil {
			changes = append(changes, ch)
		}
		if err != nil {
			return exponential.Permanent(err)
		}
		switch st {
		case state.None, state.Blocking, state.Saving:
			return nil
		default:
			return errStillWaiting
		}
	}, waitPolicy(waitCtx))

	last := r.stateLocked()
	unlock()
	for _, ch := range changes {
		r.notify(ch)
	}

	if waitErr != nil && !errors.Is(waitErr, errStillWaiting) && !errors.Is(waitErr, context.DeadlineExceeded) {
		return result.Fail[ExitOutcome]("%s", waitErr.Error())
	}

	switch last {
	case state.None:
		return result.OK(ExitConfirmed)
	case state.Blocking, state.Saving:
		return result.Note(ExitDeferred, "the application deferred the exit request")
	case state.Startup, state.Idle:
		// Heuristic, not a verified guarantee: a ready state right after
		// an exit request is read as "exited, then immediately
		// relaunched". A process that simply ignored the request looks
		// identical.
		return result.Note(ExitConfirmed, "the application appears to have exited and restarted")
	default:
		return result.Note(ExitFailed, "timed out waiting for the application to exit")
	}
}

// GetProcessFilePath returns the running executable's path. It is permitted
// in any state except None and Fail.
func (r *Resource[K]) GetProcessFilePath() result.Result[string] {
	unlock, busy := r.lock()
	defer unlock()

	if busy {
		return result.Fail[string]("%s", state.Saving.GateMessage())
	}

	st := r.stateLocked()
	if st == state.None || st == state.Fail {
		return result.Fail[string]("%s", st.GateMessage())
	}

	h := r.handleLocked()
	path, err := h.ExecutablePath()
	if err != nil {
		return result.Fail[string]("%s", err.Error())
	}

	return result.OK(path)
}
