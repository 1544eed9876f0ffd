/*
Copyright 2026 The Everoute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sync_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/everoute/kube-informer/pkg/utils/sync"
)

func TestRunnables(t *testing.T) {
	t.Run("should start all runnables when run", func(t *testing.T) {
		RegisterTestingT(t)

		var runnables sync.Runnables
		var numbers = sets.New[int]()
		var lock = make(chan struct{}, 1)

		for i := 0; i < 10; i++ {
			i := i
			runnables.Add("number", func(context.Context) error {
				lock <- struct{}{}
				numbers.Insert(i)
				<-lock
				return nil
			})
		}

		Expect(runnables.Run(context.Background())).ShouldNot(HaveOccurred())
		Expect(sets.List(numbers)).Should(Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
	})

	t.Run("should stop all runnables after one failed", func(t *testing.T) {
		RegisterTestingT(t)

		var runnables sync.Runnables
		var canceled int64

		runnables.Add("failure", func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return errors.New("some error")
		})
		for i := 0; i < 5; i++ {
			runnables.Add("server", func(ctx context.Context) error {
				<-ctx.Done()
				atomic.AddInt64(&canceled, 1)
				return nil
			})
		}

		Expect(runnables.Run(context.Background())).Should(MatchError(ContainSubstring("failure: some error")))
		Expect(atomic.LoadInt64(&canceled)).Should(BeEquivalentTo(5))
	})

	t.Run("should stop all runnables on context done", func(t *testing.T) {
		RegisterTestingT(t)

		var runnables sync.Runnables
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		runnables.Add("server", func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		Expect(runnables.Run(ctx)).ShouldNot(HaveOccurred())
	})

	t.Run("should not add runnable after run", func(t *testing.T) {
		RegisterTestingT(t)

		var runnables sync.Runnables
		Expect(runnables.Run(context.Background())).ShouldNot(HaveOccurred())

		defer func() { Expect(recover()).ShouldNot(BeNil()) }()
		runnables.Add("late", func(context.Context) error { return nil })
	})

	t.Run("should not repeat run runnables", func(t *testing.T) {
		RegisterTestingT(t)

		var runnables sync.Runnables
		Expect(runnables.Run(context.Background())).ShouldNot(HaveOccurred())
		Expect(runnables.Run(context.Background())).Should(HaveOccurred())
	})
}
