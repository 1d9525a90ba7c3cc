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

// Package fsm wraps looplab/fsm into the state holder used by every
// supervised resource. The probe is the single source of truth for state,
// so every state is reachable from every other state via an observe event;
// the machine's job is to keep the current value, run enter-state callbacks
// and log transitions consistently.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/state"
)

// Machine holds the current state of one supervised resource.
// It is not safe for concurrent use on its own; callers serialize access
// through the resource's operation lock.
type Machine struct {
	id        string
	fsm       *fsm.FSM
	callbacks map[string]fsm.Callback
	logger    *zap.SugaredLogger
}

// eventFor names the observe event that moves the machine into st.
func eventFor(st state.State) string {
	return "observe_" + st.String()
}

// allStateNames returns every state name, used as the source set of each
// observe event.
func allStateNames() []string {
	names := make([]string, 0, len(state.All))
	for _, st := range state.All {
		names = append(names, st.String())
	}

	return names
}

// New creates a Machine starting in state.None. A nil log falls back to the
// machine component logger.
func New(id string, log *zap.SugaredLogger) *Machine {
	if log == nil {
		log = logger.For(logger.ComponentMachine).Named(id)
	}

	m := &Machine{
		id:        id,
		callbacks: make(map[string]fsm.Callback),
		logger:    log,
	}

	sources := allStateNames()
	events := make([]fsm.EventDesc, 0, len(state.All))
	for _, st := range state.All {
		events = append(events, fsm.EventDesc{
			Name: eventFor(st),
			Src:  sources,
			Dst:  st.String(),
		})
	}

	m.fsm = fsm.NewFSM(
		state.None.String(),
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
				m.logger.Debugf("Resource %s transitioned %s -> %s", m.id, e.Src, e.Dst)
			},
		},
	)

	return m
}

// AddCallback registers a callback for an event name such as "enter_idle".
func (m *Machine) AddCallback(eventName string, callback fsm.Callback) {
	m.callbacks[eventName] = callback
}

// Current returns the machine's current state.
func (m *Machine) Current() state.State {
	name := m.fsm.Current()
	for _, st := range state.All {
		if st.String() == name {
			return st
		}
	}

	return state.Fail
}

// Observe moves the machine into st. Observing the current state again is a
// no-op and runs no callbacks.
func (m *Machine) Observe(ctx context.Context, st state.State) error {
	if m.fsm.Current() == st.String() {
		return nil
	}

	return m.fsm.Event(ctx, eventFor(st))
}

// SetState forces the current state without firing callbacks.
// This should only be called in tests.
func (m *Machine) SetState(st state.State) {
	m.fsm.SetState(st.String())
}
