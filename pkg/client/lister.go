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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	rthttp "github.com/hashicorp/go-retryablehttp"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/schema"
)

const (
	defaultListRetryMax = 3
	listRetryWaitMin    = 200 * time.Millisecond
	listRetryWaitMax    = 2 * time.Second
)

// ListFunc lists all objects of a collection and the collection resourceVersion.
type ListFunc[T schema.Object] func(ctx context.Context) (*schema.List[T], error)

// NewLister returns a ListFunc which GET the collection at path. Transport
// errors and 5xx responses are retried up to client.ListRetryMax times.
func NewLister[T schema.Object](client *Client, path string, codec schema.Codec[T]) ListFunc[T] {
	return func(ctx context.Context) (*schema.List[T], error) {
		req, err := client.NewRequest(ctx, path, url.Values{})
		if err != nil {
			return nil, err
		}

		retryReq, err := rthttp.FromRequest(req)
		if err != nil {
			return nil, fmt.Errorf("failed to build list request: %s", err)
		}

		resp, err := client.retryClient().Do(retryReq)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list %s: %w", path, statusErrorFromResponse(resp))
		}

		var list struct {
			Metadata metav1.ListMeta  `json:"metadata"`
			Items    []json.RawMessage `json:"items"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return nil, fmt.Errorf("server response code: %d, err: %s", resp.StatusCode, err)
		}

		result := &schema.List[T]{
			Items:           make([]T, 0, len(list.Items)),
			ResourceVersion: list.Metadata.ResourceVersion,
		}
		for _, raw := range list.Items {
			item, err := codec(raw)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			result.Items = append(result.Items, item)
		}

		klog.V(4).Infof("list %s got %d items at resourceVersion %s", path, len(result.Items), result.ResourceVersion)
		return result, nil
	}
}

func (c *Client) retryClient() *rthttp.Client {
	retryClient := rthttp.NewClient()
	retryClient.HTTPClient = c.httpClient()
	retryClient.RetryMax = c.ListRetryMax
	if retryClient.RetryMax == 0 {
		retryClient.RetryMax = defaultListRetryMax
	}
	retryClient.RetryWaitMin = listRetryWaitMin
	retryClient.RetryWaitMax = listRetryWaitMax
	retryClient.Logger = nil
	// return the last response, so the status could be read
	retryClient.ErrorHandler = rthttp.PassthroughErrorHandler
	return retryClient
}

// NewDynamicLister returns a ListFunc which lists gvr in namespace with the
// dynamic client. Empty namespace lists from all namespaces.
func NewDynamicLister(client dynamic.Interface, gvr k8sschema.GroupVersionResource, namespace string) ListFunc[*unstructured.Unstructured] {
	return func(ctx context.Context) (*schema.List[*unstructured.Unstructured], error) {
		list, err := client.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", gvr.String(), err)
		}

		result := &schema.List[*unstructured.Unstructured]{
			Items:           make([]*unstructured.Unstructured, 0, len(list.Items)),
			ResourceVersion: list.GetResourceVersion(),
		}
		for i := range list.Items {
			result.Items = append(result.Items, &list.Items[i])
		}
		return result, nil
	}
}

// NewUnstructuredLister is a shortcut of NewLister with schema.UnstructuredCodec.
func NewUnstructuredLister(client *Client, path string) ListFunc[*unstructured.Unstructured] {
	return NewLister(client, path, schema.UnstructuredCodec)
}
