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

package schema

import (
	"encoding/json"

	"k8s.io/apimachinery/pkg/watch"
)

// EventType is the closed set of events an informer publishes.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventUpdated  EventType = "UPDATED"
	EventDeleted  EventType = "DELETED"
	EventBookmark EventType = "BOOKMARK"
	EventError    EventType = "ERROR"

	EventConnect    EventType = "CONNECT"
	EventDisconnect EventType = "DISCONNECT"
)

// EventTypeFromWire maps the watch type on the wire to EventType.
// Unknown types return false.
func EventTypeFromWire(t watch.EventType) (EventType, bool) {
	switch t {
	case watch.Added:
		return EventAdded, true
	case watch.Modified:
		return EventUpdated, true
	case watch.Deleted:
		return EventDeleted, true
	case watch.Bookmark:
		return EventBookmark, true
	case watch.Error:
		return EventError, true
	}
	return "", false
}

// IsMutation reports whether events of this type change the object set.
func (t EventType) IsMutation() bool {
	return t == EventAdded || t == EventUpdated || t == EventDeleted
}

// WatchEvent is a single change received from a watch stream, or a
// connect/disconnect signal of the stream itself.
type WatchEvent[T Object] struct {
	Type EventType
	// Object is the affected object, only valid when HasObject is true.
	Object    T
	HasObject bool
	// Err is set on EventError.
	Err error
	// URL is set on EventConnect and EventDisconnect.
	URL string
	// Raw is the whole envelope as received from the wire.
	Raw json.RawMessage
}

// ResourceVersion returns the resourceVersion carried by the event, it reads
// from the raw envelope so objects without metadata accessors still work.
func (e *WatchEvent[T]) ResourceVersion() string {
	if e.HasObject {
		if rv := e.Object.GetResourceVersion(); rv != "" {
			return rv
		}
	}
	var envelope struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(e.Raw, &envelope); err != nil {
		return ""
	}
	return ResourceVersionOf(envelope.Object)
}
