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

package fake

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/everoute/kube-informer/pkg/schema"
)

const defaultWatchChanSize = 1024

// Event is a line sent to the watchers. Raw events are not kept in history.
type Event struct {
	Type   watch.EventType
	Object interface{}
	RV     int64

	raw []byte
}

// Line returns the json line of the event as sent on the wire.
func (e *Event) Line() []byte {
	if e.raw != nil {
		return e.raw
	}
	raw, err := json.Marshal(map[string]interface{}{
		"type":   e.Type,
		"object": e.Object,
	})
	if err != nil {
		panic(fmt.Errorf("marshal event: %s", err))
	}
	return raw
}

// Tracker keeps track of objects and the history of their changes. It's used
// to mock a resource collection, every mutation increases the resourceVersion.
type Tracker struct {
	sync.RWMutex

	rv        int64
	compacted int64
	items     map[schema.ObjectKey]*unstructured.Unstructured
	history   []*Event

	watchChanSize int
	watchers      map[chan *Event]struct{}
}

func NewTracker(watchChanSize int) *Tracker {
	return &Tracker{
		items:         make(map[schema.ObjectKey]*unstructured.Unstructured),
		watchChanSize: watchChanSize,
		watchers:      make(map[chan *Event]struct{}),
	}
}

// NewObject returns a ConfigMap like object for test.
func NewObject(namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion("v1")
	obj.SetKind("ConfigMap")
	obj.SetNamespace(namespace)
	obj.SetName(name)
	return obj
}

// ResourceVersion returns the current resourceVersion of the collection.
func (w *Tracker) ResourceVersion() string {
	w.RLock()
	defer w.RUnlock()
	return strconv.FormatInt(w.rv, 10)
}

// SetResourceVersion moves the collection resourceVersion forward to rv.
func (w *Tracker) SetResourceVersion(rv int64) {
	w.Lock()
	defer w.Unlock()
	if rv > w.rv {
		w.rv = rv
	}
}

func (w *Tracker) Create(obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	w.Lock()
	defer w.Unlock()

	if _, ok := w.items[schema.KeyOf(obj)]; ok {
		return nil, fmt.Errorf("create object %s already exist", schema.KeyOf(obj))
	}
	return w.saveItemLocked(watch.Added, obj), nil
}

func (w *Tracker) Update(obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	w.Lock()
	defer w.Unlock()

	if _, ok := w.items[schema.KeyOf(obj)]; !ok {
		return nil, fmt.Errorf("update object %s not found", schema.KeyOf(obj))
	}
	return w.saveItemLocked(watch.Modified, obj), nil
}

// CreateOrUpdate saves obj and returns the stored copy.
func (w *Tracker) CreateOrUpdate(obj *unstructured.Unstructured) *unstructured.Unstructured {
	w.Lock()
	defer w.Unlock()

	var eventType = watch.Added
	if _, ok := w.items[schema.KeyOf(obj)]; ok {
		eventType = watch.Modified
	}
	return w.saveItemLocked(eventType, obj)
}

func (w *Tracker) saveItemLocked(eventType watch.EventType, obj *unstructured.Unstructured) *unstructured.Unstructured {
	// always store the deep copy, so the caller could modify obj later
	item := obj.DeepCopy()
	w.rv++
	item.SetResourceVersion(strconv.FormatInt(w.rv, 10))

	w.items[schema.KeyOf(item)] = item
	w.recordLocked(&Event{Type: eventType, Object: item.DeepCopy(), RV: w.rv})
	return item.DeepCopy()
}

func (w *Tracker) Delete(namespace, name string) error {
	w.Lock()
	defer w.Unlock()

	key := schema.ObjectKey{Namespace: namespace, Name: name}
	item, ok := w.items[key]
	if !ok {
		return fmt.Errorf("delete object key %s not found", key)
	}

	delete(w.items, key)
	w.rv++
	item.SetResourceVersion(strconv.FormatInt(w.rv, 10))
	w.recordLocked(&Event{Type: watch.Deleted, Object: item, RV: w.rv})
	return nil
}

// DeleteSilently removes the object without notify watchers or keep history,
// so only a new list could find out the deletion.
func (w *Tracker) DeleteSilently(namespace, name string) {
	w.Lock()
	defer w.Unlock()

	delete(w.items, schema.ObjectKey{Namespace: namespace, Name: name})
	w.rv++
}

func (w *Tracker) Get(namespace, name string) (*unstructured.Unstructured, bool) {
	w.RLock()
	defer w.RUnlock()

	item, exists := w.items[schema.ObjectKey{Namespace: namespace, Name: name}]
	if !exists {
		return nil, false
	}
	return item.DeepCopy(), true
}

// List returns all objects sorted by key, and the collection resourceVersion.
func (w *Tracker) List() ([]*unstructured.Unstructured, string) {
	w.RLock()
	defer w.RUnlock()

	list := make([]*unstructured.Unstructured, 0, len(w.items))
	for _, item := range w.items {
		list = append(list, item.DeepCopy())
	}
	sort.Slice(list, func(i, j int) bool {
		return schema.KeyOf(list[i]).String() < schema.KeyOf(list[j]).String()
	})
	return list, strconv.FormatInt(w.rv, 10)
}

// Bookmark sends a BOOKMARK with the current resourceVersion to all watchers.
func (w *Tracker) Bookmark() {
	w.Lock()
	defer w.Unlock()

	object := map[string]interface{}{
		"kind":       "ConfigMap",
		"apiVersion": "v1",
		"metadata":   map[string]interface{}{"resourceVersion": strconv.FormatInt(w.rv, 10)},
	}
	w.notifyLocked(&Event{Type: watch.Bookmark, Object: object, RV: w.rv})
}

// SendError sends an ERROR event with status to all watchers.
func (w *Tracker) SendError(status metav1.Status) {
	w.Lock()
	defer w.Unlock()

	status.Kind, status.APIVersion = "Status", "v1"
	w.notifyLocked(&Event{Type: watch.Error, Object: status})
}

// SendRaw sends a raw line to all watchers.
func (w *Tracker) SendRaw(line string) {
	w.Lock()
	defer w.Unlock()

	w.notifyLocked(&Event{raw: []byte(line)})
}

// Compact drops the history, watch from a resourceVersion before now
// would get 410 Gone.
func (w *Tracker) Compact() {
	w.Lock()
	defer w.Unlock()

	w.compacted = w.rv
	w.history = nil
}

// Watch returns the events after rv, and a channel of the events to come.
// It returns error when the history of rv has been compacted.
func (w *Tracker) Watch(rv string) (history []*Event, eventCh <-chan *Event, stopWatch func(), err error) {
	var since int64 = -1
	if rv != "" {
		if since, err = strconv.ParseInt(rv, 10, 64); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid resourceVersion %s: %s", rv, err)
		}
	}

	w.Lock()
	defer w.Unlock()

	if since >= 0 && since < w.compacted {
		return nil, nil, nil, errTooOld(rv)
	}
	for _, event := range w.history {
		if since >= 0 && event.RV > since {
			history = append(history, event)
		}
	}

	watcher := make(chan *Event, w.watchChanSize)
	w.watchers[watcher] = struct{}{}
	return history, watcher, w.stopWatchFunc(watcher), nil
}

// CloseWatches ends all the watch streams.
func (w *Tracker) CloseWatches() {
	w.Lock()
	defer w.Unlock()

	for watcher := range w.watchers {
		delete(w.watchers, watcher)
		close(watcher)
	}
}

// Watchers returns the number of running watches.
func (w *Tracker) Watchers() int {
	w.RLock()
	defer w.RUnlock()
	return len(w.watchers)
}

func (w *Tracker) recordLocked(event *Event) {
	w.history = append(w.history, event)
	w.notifyLocked(event)
}

func (w *Tracker) notifyLocked(event *Event) {
	for watcher := range w.watchers {
		select {
		case watcher <- event:
		default:
			panic(fmt.Errorf("channel full"))
		}
	}
}

func (w *Tracker) stopWatchFunc(eventCh chan *Event) func() {
	return func() {
		w.Lock()
		defer w.Unlock()

		if _, ok := w.watchers[eventCh]; ok {
			delete(w.watchers, eventCh)
			close(eventCh)
		}
	}
}
