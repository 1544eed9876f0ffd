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
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"

	"github.com/everoute/kube-informer/pkg/utils"
)

// Object is the minimal view of a resource the informer needs. Every typed
// kubernetes object and *unstructured.Unstructured satisfies it.
type Object interface {
	GetName() string
	GetNamespace() string
	GetResourceVersion() string
}

// ObjectKey is the identity of an Object. Two objects are the same object
// if and only if their keys are equal, regardless of any other field.
type ObjectKey struct {
	Namespace string
	Name      string
}

func (k ObjectKey) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}

// KeyOf returns the identity of obj.
func KeyOf(obj Object) ObjectKey {
	return ObjectKey{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// IsNamespaced reports whether obj belongs to a namespace.
func IsNamespaced(obj Object) bool {
	return obj.GetNamespace() != ""
}

// List is the result of a list request: the items and the collection
// resourceVersion the watch should resume from.
type List[T Object] struct {
	Items           []T
	ResourceVersion string
}

// Codec decodes the json of a single object into T.
type Codec[T Object] func(raw []byte) (T, error)

// UnstructuredCodec decodes any json object into *unstructured.Unstructured.
// Unlike the unstructured json scheme, kind and apiVersion are not required.
func UnstructuredCodec(raw []byte) (*unstructured.Unstructured, error) {
	var content map[string]interface{}
	if err := utiljson.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("unable unmarshal %s into unstructured: %w", string(raw), err)
	}
	if content == nil {
		return nil, fmt.Errorf("unable unmarshal null into unstructured")
	}
	return &unstructured.Unstructured{Object: content}, nil
}

// JSONCodec returns a Codec which unmarshals raw into a new value created by newObj.
func JSONCodec[T Object](newObj func() T) Codec[T] {
	return func(raw []byte) (T, error) {
		obj := newObj()
		if err := json.Unmarshal(raw, obj); err != nil {
			var zero T
			return zero, fmt.Errorf("unable unmarshal %s into %T: %w", string(raw), obj, err)
		}
		return obj, nil
	}
}

// ResourceVersionOf reads metadata.resourceVersion from the raw json of an object.
// It returns empty string when the field not exist.
func ResourceVersionOf(raw json.RawMessage) string {
	var rv string
	if err := json.Unmarshal(utils.LookupJSONRaw(raw, "metadata", "resourceVersion"), &rv); err != nil {
		return ""
	}
	return rv
}
