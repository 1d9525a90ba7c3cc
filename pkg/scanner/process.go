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

package scanner

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/appherd/appherd/pkg/resource"
)

// processHandle adapts a gopsutil process to resource.Handle.
type processHandle struct {
	proc *process.Process
	name string
}

func (h *processHandle) Pid() int32 {
	return h.proc.Pid
}

func (h *processHandle) Name() string {
	return h.name
}

func (h *processHandle) ExecutablePath() (string, error) {
	return h.proc.Exe()
}

func (h *processHandle) IsRunning() (bool, error) {
	return h.proc.IsRunning()
}

func (h *processHandle) Terminate() error {
	return h.proc.Terminate()
}

func (h *processHandle) Kill() error {
	return h.proc.Kill()
}

// Status exposes the gopsutil process status characters (e.g. zombie) for
// drivers that probe deeper than plain liveness.
func (h *processHandle) Status() ([]string, error) {
	return h.proc.Status()
}

// enumerateProcesses is the default EnumerateFunc. Processes whose name
// cannot be read (already gone, or permission denied) are skipped.
func enumerateProcesses(ctx context.Context) ([]resource.Handle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	handles := make([]resource.Handle, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		handles = append(handles, &processHandle{proc: p, name: name})
	}

	return handles, nil
}
