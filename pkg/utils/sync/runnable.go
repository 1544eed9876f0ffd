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

package sync

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// Runnable is a long running component, it should return when ctx done.
type Runnable func(ctx context.Context) error

// Runnables starts a set of components together, and stops all of them
// once any fails.
type Runnables struct {
	lock      sync.Mutex
	started   bool
	names     []string
	runnables []Runnable
}

// Add adds a named component, it panics if the Runnables has started.
func (r *Runnables) Add(name string, f Runnable) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.started {
		panic(fmt.Sprintf("add runnable %s to started runnables", name))
	}
	r.names = append(r.names, name)
	r.runnables = append(r.runnables, f)
}

// Run runs all the components until ctx done or any returns error. It waits
// the others to return before returns the first error.
func (r *Runnables) Run(ctx context.Context) error {
	r.lock.Lock()
	if r.started {
		r.lock.Unlock()
		return fmt.Errorf("runnables has been started")
	}
	r.started = true
	r.lock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group := NewGroup(0)
	for i := range r.runnables {
		name, runnable := r.names[i], r.runnables[i]
		group.Go(name, func() error {
			klog.Infof("start %s", name)
			defer klog.Infof("%s exited", name)
			return runnable(ctx)
		})
	}

	err := group.WaitFirstError()
	cancel()
	if err != nil {
		_ = group.Wait()
	}
	return err
}
