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

package state_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/appherd/appherd/pkg/state"
)

var _ = Describe("State", func() {
	It("lists every state exactly once", func() {
		Expect(state.All).To(HaveLen(8))

		seen := make(map[state.State]bool)
		for _, s := range state.All {
			Expect(seen[s]).To(BeFalse(), "state %s listed twice", s)
			seen[s] = true
			Expect(s.Valid()).To(BeTrue())
		}
	})

	It("names every state in lowercase", func() {
		Expect(state.None.String()).To(Equal("none"))
		Expect(state.Fail.String()).To(Equal("fail"))
		Expect(state.Startup.String()).To(Equal("startup"))
		Expect(state.Cleanup.String()).To(Equal("cleanup"))
		Expect(state.Idle.String()).To(Equal("idle"))
		Expect(state.Active.String()).To(Equal("active"))
		Expect(state.Blocking.String()).To(Equal("blocking"))
		Expect(state.Saving.String()).To(Equal("saving"))
	})

	It("rejects values outside the closed set", func() {
		unknown := state.State(42)
		Expect(unknown.Valid()).To(BeFalse())
		Expect(unknown.String()).To(Equal("unknown"))
	})

	Describe("IsAlive", func() {
		It("is true only for the up-and-past-startup states", func() {
			alive := map[state.State]bool{
				state.None:     false,
				state.Fail:     false,
				state.Startup:  false,
				state.Cleanup:  false,
				state.Idle:     true,
				state.Active:   true,
				state.Blocking: true,
				state.Saving:   true,
			}
			for _, s := range state.All {
				Expect(s.IsAlive()).To(Equal(alive[s]), "state %s", s)
			}
		})
	})

	Describe("CanOperate", func() {
		It("permits operations only in idle and active", func() {
			for _, s := range state.All {
				expected := s == state.Idle || s == state.Active
				Expect(s.CanOperate()).To(Equal(expected), "state %s", s)
			}
		})

		It("implies the state is alive", func() {
			for _, s := range state.All {
				if s.CanOperate() {
					Expect(s.IsAlive()).To(BeTrue(), "state %s", s)
				}
			}
		})
	})

	Describe("GateMessage", func() {
		It("gives a distinct reason for every non-operable state", func() {
			messages := make(map[string]bool)
			for _, s := range state.All {
				if s.CanOperate() {
					continue
				}
				msg := s.GateMessage()
				Expect(msg).NotTo(BeEmpty(), "state %s", s)
				Expect(messages[msg]).To(BeFalse(), "state %s reuses %q", s, msg)
				messages[msg] = true
			}
		})

		It("explains a stopped application", func() {
			Expect(state.None.GateMessage()).To(Equal("the application is not running"))
		})
	})
})
