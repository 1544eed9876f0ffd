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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/decoder"
	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/types"
)

const (
	// maxStatusBodySize limits how much of a failed response is read for the status.
	maxStatusBodySize = 1 << 20
)

// Session owns the streaming watch request of one path. A session runs
// at most one request at a time.
type Session[T schema.Object] struct {
	client *Client
	path   string
	codec  schema.Codec[T]

	lock    sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewSession returns a Session watching the collection at path.
func NewSession[T schema.Object](client *Client, path string, codec schema.Codec[T]) *Session[T] {
	return &Session[T]{
		client: client,
		path:   path,
		codec:  codec,
	}
}

// WatchQuery returns the query of a watch request resume from cursor.
func WatchQuery(cursor string) url.Values {
	query := url.Values{}
	query.Set("watch", "true")
	query.Set("allowWatchBookmarks", "true")
	if cursor != "" {
		query.Set("resourceVersion", cursor)
	}
	return query
}

// URL returns the watch url start from cursor.
func (s *Session[T]) URL(cursor string) string {
	u, err := s.client.URL(s.path, WatchQuery(cursor))
	if err != nil {
		return s.path
	}
	return u
}

// Run opens the watch stream at cursor, sends an EventConnect once the server
// accepts the request, then every event of the stream to sink in order.
//
// Run returns nil when the server closes the stream, types.ErrAborted when
// the session was aborted or ctx canceled, and other errors on transport
// failure. A non 2xx response returns *apierrors.StatusError.
func (s *Session[T]) Run(ctx context.Context, cursor string, sink func(schema.WatchEvent[T])) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.end()

	req, err := s.client.NewRequest(ctx, s.path, WatchQuery(cursor))
	if err != nil {
		return err
	}
	watchURL := req.URL.String()

	resp, err := s.client.httpClient().Do(req)
	if err != nil {
		return s.exitError(ctx, fmt.Errorf("watch %s: %w", s.path, err))
	}
	// release the connection on every exit path
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return s.exitError(ctx, statusErrorFromResponse(resp))
	}

	klog.V(4).Infof("watch %s connected, status code %d", watchURL, resp.StatusCode)
	sink(schema.WatchEvent[T]{Type: schema.EventConnect, URL: watchURL})

	d := decoder.New(resp.Body, s.codec)
	for {
		event, err := d.Next()
		if ctx.Err() != nil {
			// nothing delivered after abort
			return s.exitError(ctx, err)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.exitError(ctx, fmt.Errorf("read watch stream %s: %w", s.path, err))
		}
		sink(event)
	}
}

// Abort cancels the in-flight request, Run returns types.ErrAborted.
func (s *Session[T]) Abort() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session[T]) begin(ctx context.Context) (context.Context, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running {
		return nil, types.ErrSessionBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running, s.cancel = true, cancel
	return ctx, nil
}

func (s *Session[T]) end() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.cancel()
	s.running, s.cancel = false, nil
}

// exitError classifies err. The connection pool belongs to the http client
// which may be shared, so it is left untouched.
func (s *Session[T]) exitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.ErrAborted
	}
	return err
}

// statusErrorFromResponse reads metav1.Status from response body, or builds one
// from the status code when the body is not a Status.
func statusErrorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodySize))

	var status metav1.Status
	if err := json.Unmarshal(body, &status); err == nil && status.Kind == "Status" && status.Code != 0 {
		return &apierrors.StatusError{ErrStatus: status}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    int32(resp.StatusCode),
		Reason:  reasonForCode(resp.StatusCode),
		Message: fmt.Sprintf("server response code %d: %s", resp.StatusCode, message),
	}}
}

func reasonForCode(code int) metav1.StatusReason {
	switch code {
	case http.StatusGone:
		return metav1.StatusReasonExpired
	case http.StatusUnauthorized:
		return metav1.StatusReasonUnauthorized
	case http.StatusForbidden:
		return metav1.StatusReasonForbidden
	case http.StatusNotFound:
		return metav1.StatusReasonNotFound
	case http.StatusTooManyRequests:
		return metav1.StatusReasonTooManyRequests
	}
	if code >= http.StatusInternalServerError {
		return metav1.StatusReasonInternalError
	}
	return metav1.StatusReasonUnknown
}
