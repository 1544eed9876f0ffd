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

package store

import (
	"sort"
	"sync"

	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/schema"
)

// RemovedFunc is called for each object dropped by ReconcileFromList.
type RemovedFunc[T schema.Object] func(obj T)

// Store keeps the objects of one collection in insertion order, with
// a secondary index from namespace to the namespaced objects.
//
// Every namespaced object in objects appears exactly once in index[namespace],
// and cluster-scoped objects never appear in index. Replace is the only
// operation that does not maintain the index.
type Store[T schema.Object] struct {
	lock    sync.RWMutex
	objects []T
	index   map[string][]T

	removedHandlers []RemovedFunc[T]
}

// New returns an empty Store.
func New[T schema.Object]() *Store[T] {
	return &Store[T]{
		index: make(map[string][]T),
	}
}

// AddRemovedHandler registers fn to be called when reconcile drops a stale object.
func (s *Store[T]) AddRemovedHandler(fn RemovedFunc[T]) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.removedHandlers = append(s.removedHandlers, fn)
}

// List returns the objects in namespace, or all objects when namespace is empty.
// The returned slice is a copy, callers are free to modify it.
func (s *Store[T]) List(namespace string) []T {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if namespace == "" {
		return append([]T(nil), s.objects...)
	}
	return append([]T(nil), s.index[namespace]...)
}

// Get finds the object by name. If namespace is empty, object in any namespace matches.
func (s *Store[T]) Get(name, namespace string) (T, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, obj := range s.objects {
		if obj.GetName() == name && (namespace == "" || obj.GetNamespace() == namespace) {
			return obj, true
		}
	}

	var zero T
	return zero, false
}

// Len returns the number of objects in the store.
func (s *Store[T]) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.objects)
}

// Namespaces returns the sorted namespaces currently indexed.
func (s *Store[T]) Namespaces() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	namespaces := lo.Keys(s.index)
	sort.Strings(namespaces)
	return namespaces
}

// Replace replaces all objects with the given ones. The namespace index
// is left as it is, a later ReconcileFromList drops index entries absent
// from its list.
func (s *Store[T]) Replace(objects []T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.objects = append([]T(nil), objects...)
}

// Upsert adds obj, or replaces the stored object of the same identity when
// their resourceVersion differ. Equal resourceVersion is a no-op.
func (s *Store[T]) Upsert(obj T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.upsertLocked(obj)
}

// Remove deletes the object of the same identity as obj.
func (s *Store[T]) Remove(obj T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.removeLocked(obj)
}

// ReconcileFromList converges the store to the result of a fresh list:
// objects not in the list are dropped, listed objects are upserted. It
// returns the list resourceVersion to resume watch from.
//
// Removed handlers run after the store is unlocked, so they may read the store.
func (s *Store[T]) ReconcileFromList(list *schema.List[T]) string {
	s.lock.Lock()
	stale := s.staleLocked(list.Items)
	for _, obj := range stale {
		klog.V(4).Infof("drop stale object %s which not exist in the list", schema.KeyOf(obj))
		s.removeLocked(obj)
	}
	for _, item := range list.Items {
		s.upsertLocked(item)
	}
	handlers := append([]RemovedFunc[T](nil), s.removedHandlers...)
	s.lock.Unlock()

	for _, obj := range stale {
		for _, fn := range handlers {
			fn(obj)
		}
	}
	return list.ResourceVersion
}

// staleLocked returns the objects of both the primary sequence and the
// namespace index which are absent from items, each identity once.
func (s *Store[T]) staleLocked(items []T) []T {
	listed := make(map[schema.ObjectKey]struct{}, len(items))
	for _, item := range items {
		listed[schema.KeyOf(item)] = struct{}{}
	}

	var stale []T
	isStale := func(obj T) bool {
		key := schema.KeyOf(obj)
		if _, ok := listed[key]; ok {
			return false
		}
		// mark as seen, the index may hold the same object
		listed[key] = struct{}{}
		return true
	}

	stale = append(stale, lo.Filter(s.objects, func(obj T, _ int) bool { return isStale(obj) })...)
	for _, namespace := range lo.Keys(s.index) {
		stale = append(stale, lo.Filter(s.index[namespace], func(obj T, _ int) bool { return isStale(obj) })...)
	}
	return stale
}

func (s *Store[T]) upsertLocked(obj T) {
	s.objects = upsertObject(s.objects, obj)
	if schema.IsNamespaced(obj) {
		namespace := obj.GetNamespace()
		s.index[namespace] = upsertObject(s.index[namespace], obj)
	}
}

func (s *Store[T]) removeLocked(obj T) {
	s.objects = deleteObject(s.objects, obj)

	namespace := obj.GetNamespace()
	if namespace == "" {
		return
	}
	if objects := deleteObject(s.index[namespace], obj); len(objects) != 0 {
		s.index[namespace] = objects
	} else {
		delete(s.index, namespace)
	}
}

func upsertObject[T schema.Object](objects []T, obj T) []T {
	ix := findObject(objects, obj)
	switch {
	case ix == -1:
		return append(objects, obj)
	case !isSameVersion(objects[ix], obj):
		objects[ix] = obj
	}
	return objects
}

func deleteObject[T schema.Object](objects []T, obj T) []T {
	ix := findObject(objects, obj)
	if ix == -1 {
		return objects
	}
	return append(objects[:ix], objects[ix+1:]...)
}

func findObject[T schema.Object](objects []T, obj T) int {
	key := schema.KeyOf(obj)
	_, ix, found := lo.FindIndexOf(objects, func(item T) bool {
		return schema.KeyOf(item) == key
	})
	if !found {
		return -1
	}
	return ix
}

// isSameVersion returns false when the stored object has no resourceVersion,
// so versionless objects are always replaced.
func isSameVersion[T schema.Object](stored, obj T) bool {
	rv := stored.GetResourceVersion()
	return rv != "" && rv == obj.GetResourceVersion()
}
