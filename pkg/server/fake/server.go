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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/client"
	"github.com/everoute/kube-informer/pkg/server/fake/conn"
)

// Host is the address of the fake server used by NewClient.
const Host = "http://fake-apiserver"

// Server mock the api server of a single collection, you can list or watch
// any path of it. Use server.Tracker() to mock the resources, and
// server.NewClient() to connect to the mock server.
type Server struct {
	serveLock sync.Mutex
	stopCh    chan struct{}

	tracker  *Tracker
	listener *conn.Listener

	lock          sync.Mutex
	listFailures  []int
	watchFailures []int
	listCount     int
	watchQueries  []url.Values
}

// NewServer creates a new instance of Server.
func NewServer() *Server {
	return &Server{
		tracker:  NewTracker(defaultWatchChanSize),
		listener: conn.Listen(),
	}
}

// NewClient creates a client that can connect to the server.
func (s *Server) NewClient() *client.Client {
	return &client.Client{
		Host:       Host,
		HTTPClient: &http.Client{Transport: s.listener},
	}
}

// Tracker let you can mock server resources.
func (s *Server) Tracker() *Tracker {
	return s.tracker
}

// FailList makes the next len(codes) list requests fail with the codes.
func (s *Server) FailList(codes ...int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.listFailures = append(s.listFailures, codes...)
}

// FailWatch makes the next len(codes) watch requests fail with the codes.
func (s *Server) FailWatch(codes ...int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.watchFailures = append(s.watchFailures, codes...)
}

// ListCount returns the number of list requests received.
func (s *Server) ListCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.listCount
}

// WatchQueries returns the query of every watch request received.
func (s *Server) WatchQueries() []url.Values {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]url.Values(nil), s.watchQueries...)
}

// Serve start Server if is stopped.
func (s *Server) Serve() {
	s.serveLock.Lock()
	defer s.serveLock.Unlock()

	if s.stopped() {
		s.stopCh = make(chan struct{})
		go func(stopCh <-chan struct{}) {
			if err := s.start(stopCh); err != nil && err != http.ErrServerClosed {
				klog.Errorf("unable start server: %s", err)
			}
		}(s.stopCh)
	}
}

// Stop stop Server if is running, all watch streams are closed.
func (s *Server) Stop() {
	s.serveLock.Lock()
	defer s.serveLock.Unlock()

	if !s.stopped() {
		close(s.stopCh)
		s.tracker.CloseWatches()
	}
}

func (s *Server) stopped() bool {
	if s.stopCh == nil {
		return true
	}

	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Server) start(stopCh <-chan struct{}) error {
	server := http.Server{
		Handler: s,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(s.listener)
	}()

	select {
	case <-stopCh:
		return server.Shutdown(context.Background())
	case err := <-serveErr:
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeStatus(w, statusFor(http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method)))
		return
	}

	if r.URL.Query().Get("watch") == "true" {
		s.serveWatch(w, r)
		return
	}
	s.serveList(w, r)
}

func (s *Server) serveList(w http.ResponseWriter, _ *http.Request) {
	if code, ok := s.nextFailure(&s.listFailures, nil); ok {
		writeStatus(w, statusFor(code, "injected list failure"))
		return
	}

	items, rv := s.tracker.List()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"kind":       "List",
		"apiVersion": "v1",
		"metadata":   map[string]interface{}{"resourceVersion": rv},
		"items":      items,
	})
}

func (s *Server) serveWatch(w http.ResponseWriter, r *http.Request) {
	if code, ok := s.nextFailure(&s.watchFailures, r.URL.Query()); ok {
		writeStatus(w, statusFor(code, "injected watch failure"))
		return
	}

	history, eventCh, stopWatch, err := s.tracker.Watch(r.URL.Query().Get("resourceVersion"))
	if err != nil && !apierrors.IsResourceExpired(err) {
		writeStatus(w, statusFor(http.StatusBadRequest, err.Error()))
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	var writeEvent = func(event *Event) bool {
		if _, err := w.Write(append(event.Line(), '\n')); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if err != nil {
		// the apiserver reports a too old resourceVersion in the stream
		status := err.(apierrors.APIStatus).Status()
		writeEvent(&Event{Type: watch.Error, Object: status})
		return
	}
	defer stopWatch()

	if flusher != nil {
		flusher.Flush()
	}
	for _, event := range history {
		if !writeEvent(event) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok || !writeEvent(event) {
				return
			}
		}
	}
}

// nextFailure records the request and pops the next injected failure.
func (s *Server) nextFailure(failures *[]int, watchQuery url.Values) (int, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if watchQuery != nil {
		s.watchQueries = append(s.watchQueries, watchQuery)
	} else {
		s.listCount++
	}

	if len(*failures) == 0 {
		return 0, false
	}
	code := (*failures)[0]
	*failures = (*failures)[1:]
	return code, true
}

func errTooOld(rv string) error {
	return apierrors.NewResourceExpired(fmt.Sprintf("too old resource version: %s", rv))
}

func statusFor(code int, message string) metav1.Status {
	var reason = metav1.StatusReasonUnknown
	switch code {
	case http.StatusGone:
		reason = metav1.StatusReasonExpired
	case http.StatusBadRequest:
		reason = metav1.StatusReasonBadRequest
	case http.StatusUnauthorized:
		reason = metav1.StatusReasonUnauthorized
	case http.StatusForbidden:
		reason = metav1.StatusReasonForbidden
	case http.StatusMethodNotAllowed:
		reason = metav1.StatusReasonMethodNotAllowed
	case http.StatusInternalServerError:
		reason = metav1.StatusReasonInternalError
	case http.StatusServiceUnavailable:
		reason = metav1.StatusReasonServiceUnavailable
	}
	return metav1.Status{
		TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   metav1.StatusFailure,
		Message:  message,
		Reason:   reason,
		Code:     int32(code),
	}
}

func writeStatus(w http.ResponseWriter, status metav1.Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(status.Code))
	_ = json.NewEncoder(w).Encode(status)
}
