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

package result_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/appherd/appherd/pkg/result"
)

var _ = Describe("Result", func() {
	It("carries a value without a message on success", func() {
		r := result.OK("hello")
		Expect(r.Value).To(Equal("hello"))
		Expect(r.HasMessage()).To(BeFalse())
	})

	It("pairs a successful value with a noteworthy message", func() {
		r := result.Note(true, "the application is already running")
		Expect(r.Value).To(BeTrue())
		Expect(r.Message).To(Equal("the application is already running"))
		Expect(r.HasMessage()).To(BeTrue())
	})

	It("carries the zero value on failure", func() {
		r := result.Fail[int]("parameter %s is unknown", "rate")
		Expect(r.Value).To(BeZero())
		Expect(r.Message).To(Equal("parameter rate is unknown"))
	})

	Describe("FromError", func() {
		It("converts a non-nil error into a failure", func() {
			r := result.FromError(7, errors.New("boom"))
			Expect(r.Value).To(BeZero())
			Expect(r.Message).To(Equal("boom"))
		})

		It("keeps the value for a nil error", func() {
			r := result.FromError(7, nil)
			Expect(r.Value).To(Equal(7))
			Expect(r.HasMessage()).To(BeFalse())
		})
	})

	Describe("String", func() {
		It("renders the value alone when there is no message", func() {
			Expect(result.OK(3).String()).To(Equal("Result(3)"))
		})

		It("renders the message alongside the value", func() {
			Expect(result.Note(3, "capped").String()).To(Equal(`Result(3, "capped")`))
		})
	})
})
