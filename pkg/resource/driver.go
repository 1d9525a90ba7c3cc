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

	"github.com/appherd/appherd/pkg/state"
)

// Handle is the live reference to a supervised external process.
// Implementations wrap the host environment's process API; tests use fakes.
type Handle interface {
	// Pid returns the operating system process id.
	Pid() int32
	// Name returns the executable name the handle was discovered under.
	Name() string
	// ExecutablePath returns the absolute path of the running executable.
	ExecutablePath() (string, error)
	// IsRunning reports whether the process is still alive.
	IsRunning() (bool, error)
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill force-terminates the process.
	Kill() error
}

// HandleFinder locates the current live handles for a class key (typically
// an executable name). The scanner implements this with a shared cache so a
// burst of lookups across many resources costs one process enumeration.
type HandleFinder interface {
	Find(ctx context.Context, classKey string) ([]Handle, error)
}

// Driver is the capability contract a product-specific collaborator
// implements for its application. Every hook is invoked with the resource's
// operation lock held and only after state gating has passed, with inputs
// already validated by the core.
//
// Hooks must block until their own effect is confirmed or failed, and must
// never call back into any public method of the owning resource.
type Driver[K comparable] interface {
	// Probe classifies a live handle into exactly one state. It is called
	// only for non-nil, still-live handles. The returned message is kept
	// only when the state is Fail.
	Probe(ctx context.Context, h Handle) (state.State, string, error)

	// Speak starts the application's primary action and returns once the
	// start is confirmed, not once the action completes.
	Speak(ctx context.Context, h Handle) error

	// Stop halts the primary action.
	Stop(ctx context.Context, h Handle) error

	// SaveFile exports the current content to path and returns the path
	// actually written, which may differ (e.g. an extension was added).
	SaveFile(ctx context.Context, h Handle, path string) (string, error)

	// GetText and SetText access the application's working text.
	GetText(ctx context.Context, h Handle) (string, error)
	SetText(ctx context.Context, h Handle, text string) error

	// GetParameters reads the requested, already-validated parameter ids.
	GetParameters(ctx context.Context, h Handle, ids []K) (map[K]float64, error)

	// SetParameters writes pre-validated, in-range values and reports
	// per-id success.
	SetParameters(ctx context.Context, h Handle, values map[K]float64) (map[K]bool, error)
}

// CharacterDriver is the optional capability for applications with
// selectable characters. A driver must implement it when its resource's
// Capabilities declare Characters.
type CharacterDriver interface {
	GetCharacter(ctx context.Context, h Handle) (string, error)
	SetCharacter(ctx context.Context, h Handle, name string) error
	AvailableCharacters(ctx context.Context, h Handle) ([]string, error)
}

// ExitNotifier is the optional lifecycle callback invoked immediately before
// the core requests process termination, for collaborator-side cleanup.
type ExitNotifier interface {
	OnExiting(ctx context.Context, h Handle)
}

// ParamSpec describes one adjustable parameter of the supervised
// application. The core validates ranges against it before the driver's
// SetParameters hook runs.
type ParamSpec[K comparable] struct {
	// ID is the collaborator-defined parameter key.
	ID K
	// Name is the human-readable display name.
	Name string
	// Digits is the decimal precision used when formatting values.
	Digits int
	// Default, Min and Max bound the parameter's value.
	Default float64
	Min     float64
	Max     float64
}

// Capabilities flags which optional operations a driver supports. Missing
// capabilities short-circuit to a "not supported" Result without ever
// invoking a hook.
type Capabilities struct {
	// Characters enables the character getters and setters. The driver
	// must also implement CharacterDriver.
	Characters bool

	// AllowBlankSave permits SaveFile when the current text is blank.
	AllowBlankSave bool
}
