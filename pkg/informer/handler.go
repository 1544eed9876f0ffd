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
	"github.com/everoute/kube-informer/pkg/schema"
)

// EventHandler can handle notifications for events that happen to the
// watched collection. Notifications are delivered in the order received
// from the server, by a single goroutine of each informer.
type EventHandler[T schema.Object] interface {
	OnAdd(obj T)
	OnUpdate(obj T)
	OnDelete(obj T)
	// OnBookmark may get a zero obj when the bookmark carries no object.
	OnBookmark(obj T)
	OnError(err error)
	OnConnect(url string)
	OnDisconnect(url string)
}

// EventHandlerFuncs is an adaptor to let you easily specify as many or
// as few of the notification functions as you want while still implementing
// EventHandler.
type EventHandlerFuncs[T schema.Object] struct {
	AddFunc        func(obj T)
	UpdateFunc     func(obj T)
	DeleteFunc     func(obj T)
	BookmarkFunc   func(obj T)
	ErrorFunc      func(err error)
	ConnectFunc    func(url string)
	DisconnectFunc func(url string)
}

func (r EventHandlerFuncs[T]) OnAdd(obj T) {
	if r.AddFunc != nil {
		r.AddFunc(obj)
	}
}

func (r EventHandlerFuncs[T]) OnUpdate(obj T) {
	if r.UpdateFunc != nil {
		r.UpdateFunc(obj)
	}
}

func (r EventHandlerFuncs[T]) OnDelete(obj T) {
	if r.DeleteFunc != nil {
		r.DeleteFunc(obj)
	}
}

func (r EventHandlerFuncs[T]) OnBookmark(obj T) {
	if r.BookmarkFunc != nil {
		r.BookmarkFunc(obj)
	}
}

func (r EventHandlerFuncs[T]) OnError(err error) {
	if r.ErrorFunc != nil {
		r.ErrorFunc(err)
	}
}

func (r EventHandlerFuncs[T]) OnConnect(url string) {
	if r.ConnectFunc != nil {
		r.ConnectFunc(url)
	}
}

func (r EventHandlerFuncs[T]) OnDisconnect(url string) {
	if r.DisconnectFunc != nil {
		r.DisconnectFunc(url)
	}
}

// notify calls the method of handler match the event type.
func notify[T schema.Object](handler EventHandler[T], event schema.WatchEvent[T]) {
	switch event.Type {
	case schema.EventAdded:
		handler.OnAdd(event.Object)
	case schema.EventUpdated:
		handler.OnUpdate(event.Object)
	case schema.EventDeleted:
		handler.OnDelete(event.Object)
	case schema.EventBookmark:
		handler.OnBookmark(event.Object)
	case schema.EventError:
		handler.OnError(event.Err)
	case schema.EventConnect:
		handler.OnConnect(event.URL)
	case schema.EventDisconnect:
		handler.OnDisconnect(event.URL)
	}
}
