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

package resource_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/appherd/appherd/pkg/resource"
	"github.com/appherd/appherd/pkg/state"
)

var _ = Describe("Operations", func() {
	var (
		ctx    context.Context
		driver *fakeDriver
		finder *stubFinder
		handle *fakeHandle
		res    *resource.Resource[string]
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newFakeDriver()
		finder = &stubFinder{}
		handle = newFakeHandle(4242, "talker.exe")

		var err error
		res, err = resource.New(testConfig(), driver, finder)
		Expect(err).NotTo(HaveOccurred())
	})

	// observe drives one update so the resource adopts the probe's answer.
	observe := func(st state.State) {
		driver.setProbe(st, "", nil)
		finder.set(handle)
		got, err := res.Update(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(st))
	}

	Describe("state gating", func() {
		It("refuses every content operation while not running", func() {
			refusal := "the application is not running"

			Expect(res.GetText(ctx).Message).To(Equal(refusal))
			Expect(res.SetText(ctx, "x").Message).To(Equal(refusal))
			Expect(res.GetParameters(ctx).Message).To(Equal(refusal))
			Expect(res.SetParameters(ctx, map[string]float64{"rate": 0.5}).Message).To(Equal(refusal))
			Expect(res.GetCharacter(ctx).Message).To(Equal(refusal))
			Expect(res.SetCharacter(ctx, "bob").Message).To(Equal(refusal))
			Expect(res.GetAvailableCharacters(ctx).Message).To(Equal(refusal))
			Expect(res.Speak(ctx).Message).To(Equal(refusal))
			Expect(res.Stop(ctx).Message).To(Equal(refusal))
			Expect(res.SaveFile(ctx, "/tmp/out.wav").Message).To(Equal(refusal))
			Expect(res.GetProcessFilePath().Message).To(Equal(refusal))

			Expect(driver.callCount("getText")).To(BeZero())
			Expect(driver.callCount("speak")).To(BeZero())
		})

		It("refuses operations while a dialog blocks the application", func() {
			observe(state.Blocking)

			r := res.Speak(ctx)
			Expect(r.Message).To(Equal("the application is blocked by a dialog"))
			Expect(driver.callCount("speak")).To(BeZero())
		})

		It("refuses operations during startup and cleanup", func() {
			observe(state.Startup)
			Expect(res.GetText(ctx).Message).To(Equal("the application is still starting"))

			observe(state.Cleanup)
			Expect(res.GetText(ctx).Message).To(Equal("the application is shutting down"))
		})

		It("permits operations in idle and active", func() {
			observe(state.Idle)
			Expect(res.GetText(ctx).HasMessage()).To(BeFalse())

			observe(state.Active)
			Expect(res.GetText(ctx).HasMessage()).To(BeFalse())
		})
	})

	Describe("text access", func() {
		BeforeEach(func() { observe(state.Idle) })

		It("reads the working text", func() {
			r := res.GetText(ctx)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(Equal("hello world"))
		})

		It("writes the working text", func() {
			r := res.SetText(ctx, "fresh copy")
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(BeTrue())
			Expect(driver.currentText()).To(Equal("fresh copy"))
		})

		It("converts a driver error into a failed result", func() {
			driver.mu.Lock()
			driver.getTextErr = errors.New("window vanished")
			driver.mu.Unlock()

			r := res.GetText(ctx)
			Expect(r.Message).To(Equal("window vanished"))
			Expect(r.Value).To(BeEmpty())
		})
	})

	Describe("parameters", func() {
		BeforeEach(func() {
			observe(state.Idle)
			driver.mu.Lock()
			driver.params = map[string]float64{"rate": 0.5, "volume": 80}
			driver.mu.Unlock()
		})

		It("reads all declared parameters when no ids are given", func() {
			r := res.GetParameters(ctx)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(HaveLen(2))
			Expect(r.Value).To(HaveKeyWithValue("rate", 0.5))
			Expect(r.Value).To(HaveKeyWithValue("volume", 80.0))
		})

		It("silently drops unknown ids on read", func() {
			r := res.GetParameters(ctx, "rate", "pitch")
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(HaveLen(1))
			Expect(r.Value).To(HaveKey("rate"))
		})

		It("writes validated values and reports per-id success", func() {
			r := res.SetParameters(ctx, map[string]float64{"rate": 0.75})
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(HaveKeyWithValue("rate", true))
		})

		It("silently drops unknown ids on write", func() {
			r := res.SetParameters(ctx, map[string]float64{"pitch": 1})
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(BeEmpty())
			Expect(driver.callCount("setParams")).To(BeZero())
		})

		It("fails the whole write for an out-of-range value, before any hook", func() {
			r := res.SetParameters(ctx, map[string]float64{"rate": 0.5, "volume": 250})
			Expect(r.Message).To(Equal("parameter Volume value 250 is out of range [0, 100]"))
			Expect(driver.callCount("setParams")).To(BeZero())
		})

		It("formats range violations at the parameter's precision", func() {
			r := res.SetParameters(ctx, map[string]float64{"rate": 1.5})
			Expect(r.Message).To(Equal("parameter Rate value 1.50 is out of range [0.00, 1.00]"))
		})
	})

	Describe("characters", func() {
		It("short-circuits when the capability is missing", func() {
			cfg := testConfig()
			cfg.Name = "mute"
			cfg.Capabilities.Characters = false
			plain, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			Expect(plain.GetCharacter(ctx).Message).To(Equal("mute does not support character selection"))
			Expect(plain.SetCharacter(ctx, "bob").Message).To(Equal("mute does not support character selection"))
			Expect(plain.GetAvailableCharacters(ctx).Message).To(Equal("mute does not support character selection"))
			Expect(driver.callCount("getChar")).To(BeZero())
		})

		It("selects and lists characters when supported", func() {
			observe(state.Idle)

			Expect(res.GetCharacter(ctx).Value).To(Equal("alice"))
			Expect(res.SetCharacter(ctx, "bob").Value).To(BeTrue())
			Expect(res.GetCharacter(ctx).Value).To(Equal("bob"))
			Expect(res.GetAvailableCharacters(ctx).Value).To(Equal([]string{"alice", "bob"}))
		})
	})

	Describe("Speak", func() {
		It("starts the primary action from idle without stopping first", func() {
			observe(state.Idle)
			driver.setProbe(state.Active, "", nil)

			r := res.Speak(ctx)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(BeTrue())
			Expect(driver.callCount("stop")).To(BeZero())
			Expect(res.State()).To(Equal(state.Active))
		})

		It("stops a running action before starting the new one", func() {
			observe(state.Active)

			r := res.Speak(ctx)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(driver.callCount("stop")).To(Equal(1))
			Expect(driver.callCount("speak")).To(Equal(1))
		})

		It("aborts when the preceding stop fails", func() {
			observe(state.Active)
			driver.mu.Lock()
			driver.stopErr = errors.New("stuck")
			driver.mu.Unlock()

			r := res.Speak(ctx)
			Expect(r.Message).To(Equal("could not stop the current action first: stuck"))
			Expect(driver.callCount("speak")).To(BeZero())
		})
	})

	Describe("Stop", func() {
		It("is a successful no-op when already idle", func() {
			observe(state.Idle)

			r := res.Stop(ctx)
			Expect(r.Value).To(BeTrue())
			Expect(r.Message).To(Equal("the application is already stopped"))
			Expect(driver.callCount("stop")).To(BeZero())
		})

		It("halts a running action", func() {
			observe(state.Active)
			driver.setProbe(state.Idle, "", nil)

			r := res.Stop(ctx)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(BeTrue())
			Expect(driver.callCount("stop")).To(Equal(1))
			Expect(res.State()).To(Equal(state.Idle))
		})
	})

	Describe("SaveFile", func() {
		var savePath string

		BeforeEach(func() {
			observe(state.Idle)
			savePath = filepath.Join(GinkgoT().TempDir(), "out", "take1.wav")
		})

		It("requires a path", func() {
			Expect(res.SaveFile(ctx, "").Message).To(Equal("no save path was given"))
		})

		It("saves and returns the resolved path", func() {
			r := res.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(Equal(savePath))
			Expect(filepath.IsAbs(r.Value)).To(BeTrue())

			driver.mu.Lock()
			defer driver.mu.Unlock()
			Expect(driver.savedTo).To(Equal(savePath))
		})

		It("prefers the path the driver actually wrote", func() {
			driver.mu.Lock()
			driver.saveReturn = savePath + ".wav"
			driver.mu.Unlock()

			r := res.SaveFile(ctx, savePath)
			Expect(r.Value).To(Equal(savePath + ".wav"))
		})

		It("creates missing directories", func() {
			r := res.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())

			_, err := os.Stat(filepath.Dir(savePath))
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses to save blank text", func() {
			driver.setText("   \n\t ")

			r := res.SaveFile(ctx, savePath)
			Expect(r.Message).To(Equal("blank text cannot be saved"))
			Expect(driver.callCount("save")).To(BeZero())
		})

		It("saves blank text when the capability allows it", func() {
			cfg := testConfig()
			cfg.Name = "blanksaver"
			cfg.Capabilities.AllowBlankSave = true
			blank, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Idle, "", nil)
			finder.set(handle)
			_, err = blank.Update(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			driver.setText("")
			r := blank.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())
		})

		It("stops a running action before saving", func() {
			observe(state.Active)
			driver.setProbe(state.Idle, "", nil)

			r := res.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(driver.callCount("stop")).To(Equal(1))
		})

		It("publishes saving before the export and leaves it afterwards", func() {
			var seen []state.State
			var mu sync.Mutex
			cancel := res.Subscribe(func(ch resource.Change) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, ch.Current)
			})
			defer cancel()

			driver.mu.Lock()
			driver.saveFn = func(context.Context, resource.Handle, string) (string, error) {
				Expect(res.State()).To(Equal(state.Saving))

				return "", nil
			}
			driver.mu.Unlock()

			r := res.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(res.State()).To(Equal(state.Idle))

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(Equal([]state.State{state.Saving, state.Idle}))
		})

		It("survives a probe that re-enters the resource during the save's re-probe", func() {
			driver.mu.Lock()
			driver.probeFn = func(context.Context, resource.Handle) (state.State, string, error) {
				if res.State() == state.Saving {
					reentrant := res.GetText(ctx)
					Expect(reentrant.Message).To(Equal("the application is busy saving a file"))
				}

				return state.Idle, "", nil
			}
			driver.mu.Unlock()

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)

				r := res.SaveFile(ctx, savePath)
				Expect(r.HasMessage()).To(BeFalse())
			}()

			Eventually(done, "2s").Should(BeClosed())
			Expect(res.State()).To(Equal(state.Idle))
		})

		It("fends off reentrant calls during the save without deadlocking", func() {
			driver.mu.Lock()
			driver.saveFn = func(context.Context, resource.Handle, string) (string, error) {
				reentrant := res.GetText(ctx)
				Expect(reentrant.Message).To(Equal("the application is busy saving a file"))

				return "", nil
			}
			driver.mu.Unlock()

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)

				r := res.SaveFile(ctx, savePath)
				Expect(r.HasMessage()).To(BeFalse())
			}()

			Eventually(done, "2s").Should(BeClosed())
		})

		It("suppresses scheduler updates for the whole save window", func() {
			driver.mu.Lock()
			driver.saveFn = func(context.Context, resource.Handle, string) (string, error) {
				probes := driver.callCount("probe")
				st, err := res.Update(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(st).To(Equal(state.Saving))
				Expect(driver.callCount("probe")).To(Equal(probes))

				return "", nil
			}
			driver.mu.Unlock()

			r := res.SaveFile(ctx, savePath)
			Expect(r.HasMessage()).To(BeFalse())
		})

		It("leaves saving even when the export fails", func() {
			driver.mu.Lock()
			driver.saveErr = errors.New("disk full")
			driver.mu.Unlock()

			r := res.SaveFile(ctx, savePath)
			Expect(r.Message).To(Equal("disk full"))
			Expect(res.State()).To(Equal(state.Idle))

			r2 := res.GetText(ctx)
			Expect(r2.HasMessage()).To(BeFalse())
		})
	})

	Describe("RunProcess", func() {
		var exePath string

		BeforeEach(func() {
			exePath = filepath.Join(GinkgoT().TempDir(), "talker")
			Expect(os.WriteFile(exePath, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())
		})

		It("requires a path", func() {
			Expect(res.RunProcess(ctx, "").Message).To(Equal("no executable path was given"))
		})

		It("refuses while the state is fail", func() {
			finder.set(handle)
			driver.setProbe(state.Idle, "", errors.New("hiccup"))
			_, _ = res.Update(ctx, nil)
			Expect(res.State()).To(Equal(state.Fail))

			r := res.RunProcess(ctx, exePath)
			Expect(r.Message).To(Equal("the application state could not be determined"))
		})

		It("is a successful no-op when already running", func() {
			observe(state.Idle)

			r := res.RunProcess(ctx, exePath)
			Expect(r.Value).To(BeTrue())
			Expect(r.Message).To(Equal("the application is already running"))
		})

		It("rejects a missing executable", func() {
			r := res.RunProcess(ctx, filepath.Join(GinkgoT().TempDir(), "nope"))
			Expect(r.Message).To(ContainSubstring("executable not found"))
		})

		It("rejects a directory", func() {
			r := res.RunProcess(ctx, GinkgoT().TempDir())
			Expect(r.Message).To(ContainSubstring("is a directory"))
		})

		It("starts the executable and waits until the application is alive", func() {
			cfg := testConfig()
			cfg.Name = "launcher"
			var started string
			cfg.StartProcess = func(_ context.Context, path string) error {
				started = path
				finder.set(handle)

				return nil
			}
			launch, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Idle, "", nil)
			r := launch.RunProcess(ctx, exePath)
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(BeTrue())
			Expect(started).To(Equal(exePath))
			Expect(launch.State()).To(Equal(state.Idle))
		})

		It("reports a launcher failure", func() {
			cfg := testConfig()
			cfg.Name = "brokenlauncher"
			cfg.StartProcess = func(context.Context, string) error {
				return errors.New("fork failed")
			}
			launch, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			r := launch.RunProcess(ctx, exePath)
			Expect(r.Message).To(ContainSubstring("fork failed"))
		})

		It("notes a timeout when the application never shows up", func() {
			cfg := testConfig()
			cfg.Name = "slowpoke"
			cfg.OperationTimeout = 50 * time.Millisecond
			cfg.StartProcess = func(context.Context, string) error { return nil }
			launch, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			r := launch.RunProcess(ctx, exePath)
			Expect(r.Value).To(BeFalse())
			Expect(r.Message).To(Equal("timed out waiting for the application to start"))
		})
	})

	Describe("ExitProcess", func() {
		It("confirms immediately when nothing is running", func() {
			r := res.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitConfirmed))
			Expect(r.Message).To(Equal("the application is not running"))
		})

		It("refuses while blocked or saving", func() {
			observe(state.Blocking)

			r := res.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitFailed))
			Expect(r.Message).To(Equal("the application is blocked by a dialog"))
		})

		It("notifies the driver, requests exit and confirms the disappearance", func() {
			observe(state.Idle)

			cfgHandle := handle
			r := res.ExitProcess(ctx)

			Expect(r.Value).To(Equal(resource.ExitConfirmed))
			Expect(r.HasMessage()).To(BeFalse())
			Expect(driver.callCount("onExiting")).To(Equal(1))

			driver.mu.Lock()
			defer driver.mu.Unlock()
			Expect(driver.exitedWith).To(Equal(resource.Handle(cfgHandle)))
			Expect(res.State()).To(Equal(state.None))
		})

		It("reports a deferred exit when the application raises a dialog", func() {
			cfg := testConfig()
			cfg.Name = "clinger"
			cfg.RequestExit = func(context.Context, resource.Handle) error { return nil }
			clinger, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Idle, "", nil)
			finder.set(handle)
			_, err = clinger.Update(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			// The exit request makes the application raise a confirmation
			// dialog instead of quitting.
			driver.setProbe(state.Blocking, "", nil)

			r := clinger.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitDeferred))
			Expect(r.Message).To(Equal("the application deferred the exit request"))
		})

		It("reads a prompt ready state as an exit-and-restart", func() {
			cfg := testConfig()
			cfg.Name = "restarter"
			cfg.OperationTimeout = 50 * time.Millisecond
			cfg.RequestExit = func(context.Context, resource.Handle) error { return nil }
			restarter, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Idle, "", nil)
			finder.set(handle)
			_, err = restarter.Update(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			r := restarter.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitConfirmed))
			Expect(r.Message).To(Equal("the application appears to have exited and restarted"))
		})

		It("fails the outcome when the application ignores the request", func() {
			cfg := testConfig()
			cfg.Name = "stubborn"
			cfg.OperationTimeout = 50 * time.Millisecond
			cfg.RequestExit = func(context.Context, resource.Handle) error { return nil }
			stubborn, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Active, "", nil)
			finder.set(handle)
			_, err = stubborn.Update(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			r := stubborn.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitFailed))
			Expect(r.Message).To(Equal("timed out waiting for the application to exit"))
		})

		It("fails when the exit request itself errors", func() {
			cfg := testConfig()
			cfg.Name = "unreachable"
			cfg.RequestExit = func(context.Context, resource.Handle) error {
				return errors.New("pipe closed")
			}
			unreachable, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			driver.setProbe(state.Idle, "", nil)
			finder.set(handle)
			_, err = unreachable.Update(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			r := unreachable.ExitProcess(ctx)
			Expect(r.Value).To(Equal(resource.ExitFailed))
			Expect(r.Message).To(Equal("could not request exit: pipe closed"))
		})
	})

	Describe("GetProcessFilePath", func() {
		It("returns the running executable's path", func() {
			observe(state.Idle)

			r := res.GetProcessFilePath()
			Expect(r.HasMessage()).To(BeFalse())
			Expect(r.Value).To(Equal("/opt/app/talker.exe"))
		})

		It("is permitted even while the application is blocked", func() {
			observe(state.Blocking)

			r := res.GetProcessFilePath()
			Expect(r.HasMessage()).To(BeFalse())
		})

		It("is refused when no process exists", func() {
			Expect(res.GetProcessFilePath().Message).To(Equal("the application is not running"))
		})
	})

	Describe("mutual exclusion", func() {
		It("never runs two driver hooks at the same time", func() {
			observe(state.Idle)

			driver.mu.Lock()
			driver.speakDelay = 3 * time.Millisecond
			driver.mu.Unlock()

			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					res.Speak(ctx)
					res.GetText(ctx)
					res.SetText(ctx, "x")
				}()
			}
			wg.Wait()

			Expect(driver.overlap.Load()).To(BeFalse())
		})

		It("never lets readers slip past the closing save window", func() {
			observe(state.Idle)
			savePath := filepath.Join(GinkgoT().TempDir(), "burst.wav")

			stop := make(chan struct{})
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					for {
						select {
						case <-stop:
							return
						default:
							res.GetText(ctx)
						}
					}
				}()
			}

			for range 300 {
				r := res.SaveFile(ctx, savePath)
				Expect(r.HasMessage()).To(BeFalse())
			}
			close(stop)
			wg.Wait()

			Expect(driver.overlap.Load()).To(BeFalse())
		})
	})

	Describe("end to end", func() {
		It("walks a launch, edit, speak and save session", func() {
			exePath := filepath.Join(GinkgoT().TempDir(), "talker")
			Expect(os.WriteFile(exePath, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

			cfg := testConfig()
			cfg.Name = "session"
			cfg.StartProcess = func(_ context.Context, _ string) error {
				finder.set(handle)

				return nil
			}
			session, err := resource.New(cfg, driver, finder)
			Expect(err).NotTo(HaveOccurred())

			Expect(session.SetText(ctx, "first line").Message).To(Equal("the application is not running"))

			Expect(session.RunProcess(ctx, exePath).HasMessage()).To(BeFalse())
			Expect(session.State()).To(Equal(state.Idle))

			Expect(session.SetText(ctx, "first line").HasMessage()).To(BeFalse())
			Expect(session.Speak(ctx).HasMessage()).To(BeFalse())

			savePath := filepath.Join(GinkgoT().TempDir(), "session.wav")
			saved := session.SaveFile(ctx, savePath)
			Expect(saved.HasMessage()).To(BeFalse())
			Expect(filepath.IsAbs(saved.Value)).To(BeTrue())

			exit := session.ExitProcess(ctx)
			Expect(exit.Value).To(Equal(resource.ExitConfirmed))
			Expect(session.State()).To(Equal(state.None))
		})
	})
})
