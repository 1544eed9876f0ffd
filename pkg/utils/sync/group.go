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
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/errors"
)

// Group runs named tasks concurrently and collects their errors.
type Group struct {
	limit chan struct{}
	wg    sync.WaitGroup

	errLock  sync.Mutex
	errs     []error
	firstErr chan error
}

// NewGroup returns a Group runs at most limit tasks at the same time,
// no limit when limit is zero.
func NewGroup(limit int) *Group {
	g := &Group{firstErr: make(chan error, 1)}
	if limit > 0 {
		g.limit = make(chan struct{}, limit)
	}
	return g
}

// Go runs fn in a new goroutine, the error returned is prefixed with name.
func (g *Group) Go(name string, fn func() error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		if g.limit != nil {
			g.limit <- struct{}{}
			defer func() { <-g.limit }()
		}

		if err := fn(); err != nil {
			g.record(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (g *Group) record(err error) {
	select {
	case g.firstErr <- err:
	default:
	}

	g.errLock.Lock()
	defer g.errLock.Unlock()
	g.errs = append(g.errs, err)
}

func (g *Group) aggregate() error {
	g.errLock.Lock()
	defer g.errLock.Unlock()
	return errors.NewAggregate(g.errs)
}

// Wait waits all tasks done, returns the aggregate of their errors.
func (g *Group) Wait() error {
	g.wg.Wait()
	return g.aggregate()
}

// WaitFirstError returns on the first task failed, or all tasks done.
func (g *Group) WaitFirstError() error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case err := <-g.firstErr:
		return err
	case <-done:
		return g.aggregate()
	}
}
