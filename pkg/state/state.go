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

// Package state defines the closed set of states a supervised application
// can be in, together with the derived predicates every caller relies on
// for operation gating. State values are produced only by a collaborator's
// probe or by an operation's direct side effect, never guessed.
package state

// State is the classification of a supervised application at one instant.
type State int

const (
	// None means the application is not running; no handle exists.
	None State = iota
	// Fail means the probe could not classify the application. Only this
	// state carries a diagnostic message.
	Fail
	// Startup means the application exists but is not yet ready.
	Startup
	// Cleanup means the application is tearing down.
	Cleanup
	// Idle means the application is ready with no activity.
	Idle
	// Active means the application is performing its primary action.
	Active
	// Blocking means the application is transiently refusing all
	// operations, e.g. a modal dialog is up.
	Blocking
	// Saving means the application is performing a file export. When both
	// Saving and Blocking could apply, Saving wins.
	Saving
)

// All lists every state exactly once, in declaration order.
var All = []State{None, Fail, Startup, Cleanup, Idle, Active, Blocking, Saving}

var names = map[State]string{
	None:     "none",
	Fail:     "fail",
	Startup:  "startup",
	Cleanup:  "cleanup",
	Idle:     "idle",
	Active:   "active",
	Blocking: "blocking",
	Saving:   "saving",
}

// String returns the lowercase name of the state, or "unknown" for values
// outside the closed set.
func (s State) String() string {
	if name, ok := names[s]; ok {
		return name
	}

	return "unknown"
}

// IsAlive reports whether the application process is up and past startup.
// Alive states are Idle, Active, Blocking and Saving.
func (s State) IsAlive() bool {
	switch s {
	case None, Fail, Startup, Cleanup:
		return false
	default:
		return true
	}
}

// CanOperate reports whether the application accepts operations right now.
// Only Idle and Active qualify; Blocking and Saving are alive but refuse
// operations.
func (s State) CanOperate() bool {
	return s == Idle || s == Active
}

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	_, ok := names[s]

	return ok
}

// GateMessage returns the human-readable reason an operation is refused in
// this state. It is only meaningful when CanOperate is false.
func (s State) GateMessage() string {
	switch s {
	case None:
		return "the application is not running"
	case Fail:
		return "the application state could not be determined"
	case Startup:
		return "the application is still starting"
	case Cleanup:
		return "the application is shutting down"
	case Blocking:
		return "the application is blocked by a dialog"
	case Saving:
		return "the application is busy saving a file"
	default:
		return "the application cannot accept operations right now"
	}
}
