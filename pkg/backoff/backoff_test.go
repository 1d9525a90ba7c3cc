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

package backoff_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/appherd/appherd/pkg/backoff"
)

var _ = Describe("Tracker", func() {
	var tracker *backoff.Tracker

	newTracker := func(maxRetries uint64) *backoff.Tracker {
		return backoff.NewTracker(backoff.Config{
			ID:              "printer",
			MaxRetries:      maxRetries,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
		})
	}

	BeforeEach(func() {
		tracker = newTracker(3)
	})

	It("starts clean", func() {
		Expect(tracker.ShouldSkip()).To(BeFalse())
		Expect(tracker.LastError()).To(BeNil())
		Expect(tracker.IsPermanentlyFailed()).To(BeFalse())
		Expect(tracker.BackoffError()).To(BeNil())
	})

	It("enters backoff after a transient failure", func() {
		permanent := tracker.SetError(errors.New("probe failed"))
		Expect(permanent).To(BeFalse())
		Expect(tracker.ShouldSkip()).To(BeTrue())
		Expect(tracker.LastError()).To(MatchError("probe failed"))
	})

	It("leaves backoff once the delay elapses", func() {
		tracker.SetError(errors.New("probe failed"))
		Eventually(tracker.ShouldSkip, "500ms", "5ms").Should(BeFalse())
	})

	It("escalates to permanent failure when the retry budget is spent", func() {
		Expect(tracker.SetError(errors.New("one"))).To(BeFalse())
		Expect(tracker.SetError(errors.New("two"))).To(BeFalse())
		Expect(tracker.SetError(errors.New("three"))).To(BeTrue())

		Expect(tracker.IsPermanentlyFailed()).To(BeTrue())
		Expect(tracker.ShouldSkip()).To(BeTrue())
		Consistently(tracker.ShouldSkip, "100ms", "20ms").Should(BeTrue())
	})

	It("escalates immediately on a permanent error", func() {
		err := backoff.NewPermanentError(errors.New("executable vanished"))
		Expect(tracker.SetError(err)).To(BeTrue())
		Expect(tracker.IsPermanentlyFailed()).To(BeTrue())
	})

	It("does not record ignored errors", func() {
		err := backoff.NewIgnoredError(errors.New("transient hiccup"))
		Expect(tracker.SetError(err)).To(BeFalse())
		Expect(tracker.LastError()).To(BeNil())
		Expect(tracker.ShouldSkip()).To(BeFalse())
	})

	It("recovers fully on Reset", func() {
		tracker.SetError(backoff.NewPermanentError(errors.New("gone")))
		tracker.Reset()

		Expect(tracker.ShouldSkip()).To(BeFalse())
		Expect(tracker.LastError()).To(BeNil())
		Expect(tracker.IsPermanentlyFailed()).To(BeFalse())
		Expect(tracker.BackoffError()).To(BeNil())
	})

	Describe("BackoffError", func() {
		It("describes an active backoff and wraps the cause", func() {
			cause := errors.New("probe failed")
			tracker.SetError(cause)

			err := tracker.BackoffError()
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("in backoff until"))
		})

		It("describes a permanent failure", func() {
			tracker.SetError(backoff.NewPermanentError(errors.New("gone")))

			err := tracker.BackoffError()
			Expect(err.Error()).To(ContainSubstring("permanently failed"))
		})
	})
})

var _ = Describe("Error categories", func() {
	It("wraps and unwraps the underlying error", func() {
		cause := errors.New("root cause")
		err := backoff.NewTransientError(cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})

	It("classifies wrapped errors by category", func() {
		Expect(backoff.IsIgnoredError(backoff.NewIgnoredError(errors.New("x")))).To(BeTrue())
		Expect(backoff.IsTransientError(backoff.NewTransientError(errors.New("x")))).To(BeTrue())
		Expect(backoff.IsPermanentError(backoff.NewPermanentError(errors.New("x")))).To(BeTrue())
	})

	It("leaves a plain error uncategorized until CategorizeError runs", func() {
		err := errors.New("plain")
		Expect(backoff.IsTransientError(err)).To(BeFalse())
		Expect(backoff.IsPermanentError(err)).To(BeFalse())
		Expect(backoff.IsIgnoredError(err)).To(BeFalse())

		Expect(backoff.IsTransientError(backoff.CategorizeError(err))).To(BeTrue())
	})

	It("keeps an existing category through CategorizeError", func() {
		err := backoff.NewPermanentError(errors.New("gone"))
		Expect(backoff.IsPermanentError(backoff.CategorizeError(err))).To(BeTrue())
	})

	It("passes nil through CategorizeError", func() {
		Expect(backoff.CategorizeError(nil)).To(BeNil())
	})
})
