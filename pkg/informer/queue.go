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

package informer

import (
	"sync"

	"github.com/everoute/kube-informer/pkg/schema"
)

// eventQueue is an unbounded FIFO between the watch loop and the
// dispatcher, so a slow handler never blocks decoding the stream.
type eventQueue[T schema.Object] struct {
	lock   sync.Mutex
	cond   *sync.Cond
	items  []schema.WatchEvent[T]
	closed bool
}

func newEventQueue[T schema.Object]() *eventQueue[T] {
	q := &eventQueue[T]{}
	q.cond = sync.NewCond(&q.lock)
	return q
}

// Push appends event to the queue, returns false if the queue has closed.
func (q *eventQueue[T]) Push(event schema.WatchEvent[T]) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, event)
	q.cond.Signal()
	return true
}

// Pop blocks until an event is available. It returns false once the queue
// has closed and all the remaining events popped.
func (q *eventQueue[T]) Pop() (schema.WatchEvent[T], bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return schema.WatchEvent[T]{}, false
		}
		q.cond.Wait()
	}

	event := q.items[0]
	q.items[0] = schema.WatchEvent[T]{}
	q.items = q.items[1:]
	return event, true
}

// Close stops accepting events, the queued ones could still be popped.
func (q *eventQueue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Discard closes the queue and drops the events not popped yet.
func (q *eventQueue[T]) Discard() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *eventQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}
