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
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/everoute/kube-informer/pkg/client"
	"github.com/everoute/kube-informer/pkg/constants"
	"github.com/everoute/kube-informer/pkg/metrics"
	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/store"
	"github.com/everoute/kube-informer/pkg/types"
)

// State is the lifecycle state of an Informer.
type State int

const (
	StateStopped State = iota
	StateListing
	StateWatching
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateListing:
		return "Listing"
	case StateWatching:
		return "Watching"
	case StateReconnectPending:
		return "ReconnectPending"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options[T schema.Object] struct {
	// Path of the collection to watch, e.g. /api/v1/namespaces/default/pods
	Path   string
	Client *client.Client

	// ListFunc lists the collection, default GET Path with Client.
	ListFunc client.ListFunc[T]
	// Codec decodes objects from watch stream, could be omitted when T
	// is *unstructured.Unstructured.
	Codec schema.Codec[T]

	// Backoff decides the wait before resume a disconnected watch,
	// default wait constant one second.
	Backoff backoff.BackOff
	// Clock allows tests to manipulate time.
	Clock clock.Clock

	// DisableCache runs the informer without a store, list only
	// provides the resource version to watch from.
	DisableCache bool
	// ResourceVersion is the initial cursor. It only takes effect with
	// DisableCache, where list is skipped when the cursor is known.
	ResourceVersion string
	// ResyncOnDisconnect forgets the cursor on every disconnect, so each
	// reconnect lists the collection again.
	ResyncOnDisconnect bool

	Metrics *metrics.InformerMetric
}

// Informer keeps a local mirror of a remote collection with list then watch,
// and notifies the handlers the changes in the order received from server.
type Informer[T schema.Object] struct {
	path     string
	session  *client.Session[T]
	listFunc client.ListFunc[T]
	backoff  backoff.BackOff
	clock    clock.Clock
	metric   *metrics.InformerMetric

	disableCache       bool
	resyncOnDisconnect bool

	store *store.Store[T]

	lock            sync.RWMutex
	state           State
	synced          bool
	resourceVersion string
	// cancel, queue and loopDone belong to the current run, queue is also
	// the token of the run: a goroutine finds itself stopped once
	// i.queue no longer equals the queue it was started with.
	cancel   context.CancelFunc
	queue    *eventQueue[T]
	loopDone chan struct{}

	handlerLock sync.RWMutex
	handlers    []EventHandler[T]
	rawHandlers []func(schema.WatchEvent[T])
}

func New[T schema.Object](opts Options[T]) (*Informer[T], error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client must be provided")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("path must be provided")
	}

	codec := opts.Codec
	if codec == nil {
		var ok bool
		codec, ok = any(schema.Codec[*unstructured.Unstructured](schema.UnstructuredCodec)).(schema.Codec[T])
		if !ok {
			var t T
			return nil, fmt.Errorf("codec must be provided for object type %T", t)
		}
	}

	i := &Informer[T]{
		path:               opts.Path,
		session:            client.NewSession(opts.Client, opts.Path, codec),
		listFunc:           opts.ListFunc,
		backoff:            opts.Backoff,
		clock:              opts.Clock,
		metric:             opts.Metrics,
		disableCache:       opts.DisableCache,
		resyncOnDisconnect: opts.ResyncOnDisconnect,
		resourceVersion:    opts.ResourceVersion,
	}

	if i.listFunc == nil {
		i.listFunc = client.NewLister(opts.Client, opts.Path, codec)
	}
	if i.backoff == nil {
		i.backoff = backoff.NewConstantBackOff(constants.DefaultReconnectInterval)
	}
	if i.clock == nil {
		i.clock = clock.RealClock{}
	}
	if !i.disableCache {
		i.store = store.New[T]()
	}

	return i, nil
}

// Start lists the collection, then watches it in background until Stop
// or ctx done. It returns the list error, and the informer stays stopped.
// Call Start on a running informer does nothing.
func (i *Informer[T]) Start(ctx context.Context) error {
	i.lock.Lock()
	if i.state != StateStopped {
		i.lock.Unlock()
		klog.Warningf("informer for %s has already started", i.path)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	queue := newEventQueue[T]()
	loopDone := make(chan struct{})
	i.cancel, i.queue, i.loopDone = cancel, queue, loopDone
	i.synced = false
	i.setStateLocked(StateListing)
	i.lock.Unlock()

	klog.Infof("start informer for %s", i.path)
	go i.dispatch(queue)

	if err := i.list(ctx, queue); err != nil {
		i.finish(queue)
		close(loopDone)
		return err
	}

	if !i.transit(queue, StateWatching) {
		close(loopDone)
		return types.ErrAborted
	}
	go i.run(ctx, queue, loopDone)
	return nil
}

// Stop aborts the watch and waits until the watch loop exits, events not
// delivered yet are discarded. It's safe to call Stop in the handlers.
func (i *Informer[T]) Stop() {
	i.lock.Lock()
	cancel, queue, loopDone := i.cancel, i.queue, i.loopDone
	i.cancel, i.queue, i.loopDone = nil, nil, nil
	i.setStateLocked(StateStopped)
	i.lock.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-loopDone
	queue.Discard()
	klog.Infof("stop informer for %s", i.path)
}

// AddEventHandler adds a handler notified with the typed events.
func (i *Informer[T]) AddEventHandler(handler EventHandler[T]) {
	i.handlerLock.Lock()
	defer i.handlerLock.Unlock()
	i.handlers = append(i.handlers, handler)
}

// AddRawHandler adds a handler receives every event, including
// connect and disconnect.
func (i *Informer[T]) AddRawHandler(handler func(event schema.WatchEvent[T])) {
	i.handlerLock.Lock()
	defer i.handlerLock.Unlock()
	i.rawHandlers = append(i.rawHandlers, handler)
}

// Store returns the local cache, nil when cache disabled. The store is
// mutated by the informer only.
func (i *Informer[T]) Store() *store.Store[T] {
	return i.store
}

func (i *Informer[T]) State() State {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return i.state
}

func (i *Informer[T]) IsStarted() bool {
	return i.State() != StateStopped
}

// HasSynced returns true once the first list of the run has finished.
func (i *Informer[T]) HasSynced() bool {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return i.synced
}

// LastSyncResourceVersion is the resource version the watch resumes from.
func (i *Informer[T]) LastSyncResourceVersion() string {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return i.resourceVersion
}

func (i *Informer[T]) setResourceVersion(rv string) {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.resourceVersion = rv
}

func (i *Informer[T]) setStateLocked(state State) {
	if i.state != state {
		klog.V(4).Infof("informer for %s state %s -> %s", i.path, i.state, state)
	}
	i.state = state
	i.metric.SetState(i.path, int(state))
}

// transit sets the state if the run of queue has not been stopped.
func (i *Informer[T]) transit(queue *eventQueue[T], state State) bool {
	i.lock.Lock()
	defer i.lock.Unlock()

	if i.queue != queue {
		return false
	}
	i.setStateLocked(state)
	return true
}

// finish stops the run of queue when it ends by itself, the events queued
// are still delivered.
func (i *Informer[T]) finish(queue *eventQueue[T]) {
	i.lock.Lock()
	if i.queue != queue {
		i.lock.Unlock()
		return
	}
	cancel := i.cancel
	i.cancel, i.queue, i.loopDone = nil, nil, nil
	i.setStateLocked(StateStopped)
	i.lock.Unlock()

	cancel()
	queue.Close()
	klog.Infof("informer for %s stopped", i.path)
}
