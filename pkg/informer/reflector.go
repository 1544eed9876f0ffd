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
	"errors"

	"github.com/cenkalti/backoff"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/types"
)

// run repeatedly watches the collection and reconnects on disconnect, or
// lists again when the resource version has expired. It exits when ctx
// done, or the list fails.
func (i *Informer[T]) run(ctx context.Context, queue *eventQueue[T], loopDone chan struct{}) {
	defer close(loopDone)
	defer i.finish(queue)
	defer utilruntime.HandleCrash()

	klog.Infof("start watch %s from resource version %q", i.path, i.LastSyncResourceVersion())
	defer klog.Infof("stop watch %s", i.path)

	i.backoff.Reset()
	for {
		expired, err := i.watch(ctx, queue)
		if err != nil {
			return
		}
		if !expired && !i.waitReconnect(ctx, queue) {
			return
		}
		if i.LastSyncResourceVersion() == "" && !i.relist(ctx, queue, expired) {
			return
		}
	}
}

// watch runs a session from the current resource version until it ends.
// It returns types.ErrAborted when the informer stopped, expired is true
// when the resource version could not be resumed from.
func (i *Informer[T]) watch(ctx context.Context, queue *eventQueue[T]) (expired bool, err error) {
	if !i.transit(queue, StateWatching) {
		return false, types.ErrAborted
	}

	var connectedURL string
	err = i.session.Run(ctx, i.LastSyncResourceVersion(), func(event schema.WatchEvent[T]) {
		if expired {
			return
		}
		if event.Type == schema.EventConnect {
			klog.Infof("connected to %s", event.URL)
			connectedURL = event.URL
			i.backoff.Reset()
		}
		if expired = i.handleEvent(queue, event); expired {
			i.session.Abort()
		}
	})

	switch {
	case expired:
		return true, nil
	case ctx.Err() != nil, errors.Is(err, types.ErrAborted):
		return false, types.ErrAborted
	case types.IsExpired(err):
		klog.Infof("resource version %q of %s has expired: %s", i.LastSyncResourceVersion(), i.path, err)
		i.setResourceVersion("")
		return true, nil
	case err != nil:
		klog.Errorf("failed to watch %s: %s", i.path, err)
		i.publish(queue, schema.WatchEvent[T]{Type: schema.EventError, Err: err})
	}

	if connectedURL != "" {
		klog.Infof("disconnected from %s", connectedURL)
		i.publish(queue, schema.WatchEvent[T]{Type: schema.EventDisconnect, URL: connectedURL})
	}
	return false, nil
}

// handleEvent applies event to the store and publishes it. It returns true
// when the server says the resource version has expired, the event is not
// published in this case.
func (i *Informer[T]) handleEvent(queue *eventQueue[T], event schema.WatchEvent[T]) bool {
	klog.V(4).Infof("get %s event of %s: %s", event.Type, i.path, string(event.Raw))

	switch event.Type {
	case schema.EventAdded, schema.EventUpdated:
		if i.store != nil {
			i.store.Upsert(event.Object)
		}
		i.advance(&event)
	case schema.EventDeleted:
		if i.store != nil {
			i.store.Remove(event.Object)
		}
		i.advance(&event)
	case schema.EventBookmark:
		i.advance(&event)
	case schema.EventError:
		if types.IsExpired(event.Err) {
			klog.Infof("resource version %q of %s has expired: %s", i.LastSyncResourceVersion(), i.path, event.Err)
			i.setResourceVersion("")
			return true
		}
		if types.IsDecodeErr(event.Err) {
			i.metric.DecodeError(i.path)
		}
		klog.Errorf("watch %s receive error: %s", i.path, event.Err)
	}

	if i.store != nil && event.Type.IsMutation() {
		i.metric.SetStoreObjects(i.path, i.store.Len())
	}
	i.publish(queue, event)
	return false
}

// advance moves the cursor to the resource version carried by event.
func (i *Informer[T]) advance(event *schema.WatchEvent[T]) {
	rv := event.ResourceVersion()
	if rv == "" {
		return
	}

	i.lock.Lock()
	defer i.lock.Unlock()
	if rv != i.resourceVersion {
		i.resourceVersion = rv
	}
}

// waitReconnect waits for the backoff, returns false if the informer
// stopped during the wait.
func (i *Informer[T]) waitReconnect(ctx context.Context, queue *eventQueue[T]) bool {
	if !i.transit(queue, StateReconnectPending) {
		return false
	}
	if i.resyncOnDisconnect {
		klog.Infof("clear resource version %q of %s on disconnect", i.LastSyncResourceVersion(), i.path)
		i.setResourceVersion("")
	}

	delay := i.backoff.NextBackOff()
	if delay == backoff.Stop {
		klog.Errorf("give up reconnect to %s", i.path)
		i.publish(queue, schema.WatchEvent[T]{Type: schema.EventError, Err: errors.New("give up reconnect after backoff exhausted")})
		return false
	}

	timer := i.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
	}

	// the stop may happen at the same time the timer fires
	if ctx.Err() != nil {
		return false
	}
	klog.Infof("reconnect to %s after %s", i.path, delay)
	i.metric.Reconnect(i.path)
	return true
}

// relist lists the collection before watching from an empty cursor.
func (i *Informer[T]) relist(ctx context.Context, queue *eventQueue[T], expired bool) bool {
	if !i.transit(queue, StateListing) {
		return false
	}
	if expired {
		klog.Infof("resync %s with a fresh list", i.path)
		i.metric.Resync(i.path)
	}

	if err := i.list(ctx, queue); err != nil {
		return false
	}
	if expired {
		i.publish(queue, schema.WatchEvent[T]{Type: schema.EventError, Err: types.ErrResynced})
	}
	return true
}

// list reconciles the store with a fresh list and resets the cursor. Without
// cache it only seeds the cursor if unknown, and list failure is published
// but not returned.
func (i *Informer[T]) list(ctx context.Context, queue *eventQueue[T]) error {
	if i.disableCache && i.LastSyncResourceVersion() != "" {
		i.setSynced()
		return nil
	}

	list, err := i.listFunc(ctx)
	if ctx.Err() != nil {
		return types.ErrAborted
	}
	if err != nil {
		klog.Errorf("failed to list %s: %s", i.path, err)
		i.metric.ListFailed(i.path)
		i.publish(queue, schema.WatchEvent[T]{Type: schema.EventError, Err: err})
		if i.disableCache {
			// watch from now on
			i.setResourceVersion("")
			return nil
		}
		return err
	}

	rv := list.ResourceVersion
	if i.store != nil {
		rv = i.store.ReconcileFromList(list)
		i.metric.SetStoreObjects(i.path, i.store.Len())
	}
	klog.Infof("list %s got %d objects at resource version %q", i.path, len(list.Items), rv)

	i.setResourceVersion(rv)
	i.setSynced()
	return nil
}

func (i *Informer[T]) setSynced() {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.synced = true
}

func (i *Informer[T]) publish(queue *eventQueue[T], event schema.WatchEvent[T]) {
	i.metric.EventReceived(i.path, string(event.Type))
	queue.Push(event)
}

// dispatch delivers the events of queue to handlers one by one.
func (i *Informer[T]) dispatch(queue *eventQueue[T]) {
	defer utilruntime.HandleCrash()

	for {
		event, ok := queue.Pop()
		if !ok {
			return
		}

		i.handlerLock.RLock()
		handlers, rawHandlers := i.handlers, i.rawHandlers
		i.handlerLock.RUnlock()

		for _, handler := range rawHandlers {
			handler(event)
		}
		for _, handler := range handlers {
			notify(handler, event)
		}
	}
}
