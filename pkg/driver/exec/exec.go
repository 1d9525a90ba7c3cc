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

// Package exec provides a liveness-only driver for plain executables. It
// supervises start, exit and crash of a process that offers no automation
// interface: a live process counts as idle, a zombie as cleaning up. All
// content and action hooks report that the application is not scriptable.
package exec

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/resource"
	"github.com/appherd/appherd/pkg/state"
)

// statusReporter is implemented by handles that can report the OS process
// status, such as the scanner's gopsutil-backed handle.
type statusReporter interface {
	Status() ([]string, error)
}

// Driver supervises a non-scriptable executable. Parameter ids are strings;
// no parameters are ever declared for it.
type Driver struct {
	logger *zap.SugaredLogger
}

// New creates an exec driver.
func New() *Driver {
	return &Driver{logger: logger.For(logger.ComponentResource).Named("exec")}
}

// Probe classifies a live process: zombies are cleaning up, everything else
// is idle. Without an automation interface there is no way to observe an
// active or blocking application.
func (d *Driver) Probe(_ context.Context, h resource.Handle) (state.State, string, error) {
	if sr, ok := h.(statusReporter); ok {
		statuses, err := sr.Status()
		if err != nil {
			return state.Fail, "", fmt.Errorf("failed to read process status: %w", err)
		}
		for _, s := range statuses {
			if s == process.Zombie {
				d.logger.Debugf("Process %d is a zombie, classifying as cleanup", h.Pid())

				return state.Cleanup, "", nil
			}
		}
	}

	return state.Idle, "", nil
}

func (d *Driver) errNotScriptable(op string) error {
	return fmt.Errorf("%s is not available, the application has no automation interface", op)
}

// Speak is unavailable for plain executables.
func (d *Driver) Speak(_ context.Context, _ resource.Handle) error {
	return d.errNotScriptable("speaking")
}

// Stop is unavailable for plain executables.
func (d *Driver) Stop(_ context.Context, _ resource.Handle) error {
	return d.errNotScriptable("stopping")
}

// SaveFile is unavailable for plain executables.
func (d *Driver) SaveFile(_ context.Context, _ resource.Handle, _ string) (string, error) {
	return "", d.errNotScriptable("saving")
}

// GetText is unavailable for plain executables.
func (d *Driver) GetText(_ context.Context, _ resource.Handle) (string, error) {
	return "", d.errNotScriptable("reading text")
}

// SetText is unavailable for plain executables.
func (d *Driver) SetText(_ context.Context, _ resource.Handle, _ string) error {
	return d.errNotScriptable("writing text")
}

// GetParameters is unavailable for plain executables.
func (d *Driver) GetParameters(_ context.Context, _ resource.Handle, _ []string) (map[string]float64, error) {
	return nil, d.errNotScriptable("reading parameters")
}

// SetParameters is unavailable for plain executables.
func (d *Driver) SetParameters(_ context.Context, _ resource.Handle, _ map[string]float64) (map[string]bool, error) {
	return nil, d.errNotScriptable("writing parameters")
}
