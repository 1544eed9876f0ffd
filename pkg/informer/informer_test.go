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
	"net/http"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/server/fake"
	"github.com/everoute/kube-informer/pkg/types"
)

const (
	testPath = "/api/v1/configmaps"
	timeout  = 5 * time.Second
)

type object = *unstructured.Unstructured

type recorder struct {
	sync.Mutex
	events []schema.WatchEvent[object]
}

func (r *recorder) record(event schema.WatchEvent[object]) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []schema.EventType {
	r.Lock()
	defer r.Unlock()
	eventTypes := make([]schema.EventType, 0, len(r.events))
	for _, event := range r.events {
		eventTypes = append(eventTypes, event.Type)
	}
	return eventTypes
}

func (r *recorder) errors() []error {
	r.Lock()
	defer r.Unlock()
	var errs []error
	for _, event := range r.events {
		if event.Type == schema.EventError {
			errs = append(errs, event.Err)
		}
	}
	return errs
}

func (r *recorder) reset() {
	r.Lock()
	defer r.Unlock()
	r.events = nil
}

func newTestInformer(t *testing.T, modifyFn func(*Options[object])) (*fake.Server, *Informer[object], *recorder) {
	server := fake.NewServer()
	server.Serve()
	t.Cleanup(server.Stop)

	opts := Options[object]{Path: testPath, Client: server.NewClient()}
	if modifyFn != nil {
		modifyFn(&opts)
	}
	informer, err := New(opts)
	if err != nil {
		t.Fatalf("unable create informer: %s", err)
	}
	t.Cleanup(informer.Stop)

	r := &recorder{}
	informer.AddRawHandler(r.record)
	return server, informer, r
}

func expiredStatus() metav1.Status {
	return metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusGone,
		Reason:  metav1.StatusReasonExpired,
		Message: "too old resource version",
	}
}

func TestNewInformer(t *testing.T) {
	RegisterTestingT(t)

	_, err := New(Options[object]{Path: testPath})
	Expect(err).Should(HaveOccurred())

	type typedObject struct{ metav1.ObjectMeta }
	_, err = New(Options[*typedObject]{Path: testPath, Client: fake.NewServer().NewClient()})
	Expect(err).Should(HaveOccurred())

	informer, err := New(Options[object]{Path: testPath, Client: fake.NewServer().NewClient()})
	Expect(err).Should(Succeed())
	Expect(informer.State()).Should(Equal(StateStopped))
	Expect(informer.IsStarted()).Should(BeFalse())
	Expect(informer.Store()).ShouldNot(BeNil())
	Expect(informer.LastSyncResourceVersion()).Should(BeEmpty())
}

func TestCursorLifecycle(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()
	tracker.SetResourceVersion(100)

	Expect(informer.Start(context.Background())).Should(Succeed())
	Expect(informer.LastSyncResourceVersion()).Should(Equal("100"))
	Expect(informer.HasSynced()).Should(BeTrue())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))
	Expect(server.WatchQueries()[0].Get("resourceVersion")).Should(Equal("100"))

	tracker.SetResourceVersion(105)
	tracker.Bookmark()
	Eventually(informer.LastSyncResourceVersion, timeout).Should(Equal("105"))
	Eventually(r.types, timeout).Should(Equal([]schema.EventType{schema.EventConnect, schema.EventBookmark}))

	tracker.SetResourceVersion(120)
	tracker.SendError(expiredStatus())
	Eventually(server.ListCount, timeout).Should(Equal(2))
	Eventually(informer.LastSyncResourceVersion, timeout).Should(Equal("120"))
	Eventually(r.errors, timeout).Should(ConsistOf(MatchError(types.ErrResynced)))

	Eventually(server.WatchQueries, timeout).Should(HaveLen(2))
	Expect(server.WatchQueries()[1].Get("resourceVersion")).Should(Equal("120"))
	Expect(informer.State()).Should(Equal(StateWatching))
}

func TestOrderPreservation(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()

	var handled []string
	var lock sync.Mutex
	var recordFunc = func(prefix string) func(obj object) {
		return func(obj object) {
			lock.Lock()
			defer lock.Unlock()
			handled = append(handled, prefix+":"+obj.GetName())
		}
	}
	informer.AddEventHandler(EventHandlerFuncs[object]{
		AddFunc:    recordFunc("add"),
		UpdateFunc: recordFunc("update"),
		DeleteFunc: recordFunc("delete"),
	})

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	x, err := tracker.Create(fake.NewObject("default", "x"))
	Expect(err).Should(Succeed())
	x.SetLabels(map[string]string{"version": "2"})
	_, err = tracker.Update(x)
	Expect(err).Should(Succeed())
	Expect(tracker.Delete("default", "x")).Should(Succeed())

	Eventually(r.types, timeout).Should(Equal([]schema.EventType{
		schema.EventConnect, schema.EventAdded, schema.EventUpdated, schema.EventDeleted,
	}))
	Eventually(func() []string {
		lock.Lock()
		defer lock.Unlock()
		return append([]string(nil), handled...)
	}, timeout).Should(Equal([]string{"add:x", "update:x", "delete:x"}))

	_, exists := informer.Store().Get("x", "default")
	Expect(exists).Should(BeFalse())
	Expect(informer.LastSyncResourceVersion()).Should(Equal("3"))
}

func TestStoreFollowsWatch(t *testing.T) {
	RegisterTestingT(t)

	server, informer, _ := newTestInformer(t, nil)
	tracker := server.Tracker()
	_, _ = tracker.Create(fake.NewObject("ns1", "a"))
	_, _ = tracker.Create(fake.NewObject("ns1", "b"))
	_, _ = tracker.Create(fake.NewObject("", "cluster"))

	Expect(informer.Start(context.Background())).Should(Succeed())
	Expect(informer.Store().Len()).Should(Equal(3))
	Expect(informer.Store().List("ns1")).Should(HaveLen(2))
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	_, _ = tracker.Create(fake.NewObject("ns2", "c"))
	Expect(tracker.Delete("ns1", "a")).Should(Succeed())

	Eventually(informer.Store().Namespaces, timeout).Should(Equal([]string{"ns1", "ns2"}))
	Eventually(func() int { return informer.Store().Len() }, timeout).Should(Equal(3))
	Expect(informer.Store().List("ns1")).Should(HaveLen(1))
}

func TestResyncRemovesStaleObjects(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()
	_, _ = tracker.Create(fake.NewObject("ns1", "a"))
	_, _ = tracker.Create(fake.NewObject("ns1", "b"))

	var removed []string
	var lock sync.Mutex
	informer.Store().AddRemovedHandler(func(obj object) {
		lock.Lock()
		defer lock.Unlock()
		removed = append(removed, schema.KeyOf(obj).String())
	})

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	// the watcher never sees this deletion, only the list after expired does
	tracker.DeleteSilently("ns1", "b")
	tracker.SendError(expiredStatus())

	Eventually(server.ListCount, timeout).Should(Equal(2))
	Eventually(func() []string {
		lock.Lock()
		defer lock.Unlock()
		return append([]string(nil), removed...)
	}, timeout).Should(Equal([]string{"ns1/b"}))
	Eventually(r.errors, timeout).Should(ConsistOf(MatchError(types.ErrResynced)))
	Expect(informer.Store().List("ns1")).Should(HaveLen(1))
}

func TestAbortSuppressesReconnect(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, r := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
	})
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	informer.Stop()
	Expect(informer.State()).Should(Equal(StateStopped))
	Expect(informer.IsStarted()).Should(BeFalse())
	tracker.CloseWatches()
	fakeClock.Step(time.Minute)

	Consistently(server.ListCount, time.Second).Should(Equal(1))
	Expect(server.WatchQueries()).Should(HaveLen(1))
	Expect(fakeClock.HasWaiters()).Should(BeFalse())
	Expect(r.types()).ShouldNot(ContainElement(schema.EventDisconnect))

	// stop is idempotent
	informer.Stop()
}

func TestStopDuringReconnectWait(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, _ := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
	})
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	tracker.CloseWatches()
	Eventually(informer.State, timeout).Should(Equal(StateReconnectPending))
	Eventually(fakeClock.HasWaiters, timeout).Should(BeTrue())

	informer.Stop()
	fakeClock.Step(time.Minute)
	Consistently(server.WatchQueries, time.Second).Should(HaveLen(1))
}

func TestReconnectResumesAtCursor(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, r := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
	})
	tracker := server.Tracker()
	_, _ = tracker.Create(fake.NewObject("default", "a"))

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))
	_, _ = tracker.Create(fake.NewObject("default", "b"))
	Eventually(informer.LastSyncResourceVersion, timeout).Should(Equal("2"))

	tracker.CloseWatches()
	Eventually(r.types, timeout).Should(ContainElement(schema.EventDisconnect))
	Eventually(informer.State, timeout).Should(Equal(StateReconnectPending))

	// changes during disconnect are received after resume
	_, _ = tracker.Create(fake.NewObject("default", "c"))
	Eventually(fakeClock.HasWaiters, timeout).Should(BeTrue())
	fakeClock.Step(time.Second)

	Eventually(server.WatchQueries, timeout).Should(HaveLen(2))
	Expect(server.WatchQueries()[1].Get("resourceVersion")).Should(Equal("2"))
	Eventually(func() int { return informer.Store().Len() }, timeout).Should(Equal(3))
	Expect(server.ListCount()).Should(Equal(1))
	Expect(informer.State()).Should(Equal(StateWatching))

	// no duplicated ADDED for the objects already known
	added := 0
	for _, eventType := range r.types() {
		if eventType == schema.EventAdded {
			added++
		}
	}
	Expect(added).Should(Equal(2))
}

func TestResyncOnDisconnect(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, r := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
		opts.ResyncOnDisconnect = true
	})
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	tracker.CloseWatches()
	Eventually(fakeClock.HasWaiters, timeout).Should(BeTrue())
	Expect(informer.LastSyncResourceVersion()).Should(BeEmpty())
	fakeClock.Step(time.Second)

	Eventually(server.ListCount, timeout).Should(Equal(2))
	Eventually(server.WatchQueries, timeout).Should(HaveLen(2))
	// a plain reconnect is not reported as resync
	Expect(r.errors()).Should(BeEmpty())
}

func TestWatchFailure(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, r := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
	})
	tracker := server.Tracker()
	tracker.SetResourceVersion(10)

	server.FailWatch(http.StatusInternalServerError)
	Expect(informer.Start(context.Background())).Should(Succeed())

	Eventually(r.errors, timeout).Should(HaveLen(1))
	Expect(types.StatusCode(r.errors()[0])).Should(BeEquivalentTo(http.StatusInternalServerError))
	Expect(r.types()).ShouldNot(ContainElement(schema.EventDisconnect))
	Eventually(fakeClock.HasWaiters, timeout).Should(BeTrue())

	fakeClock.Step(time.Second)
	Eventually(tracker.Watchers, timeout).Should(Equal(1))
	Expect(server.WatchQueries()[1].Get("resourceVersion")).Should(Equal("10"))
	Expect(server.ListCount()).Should(Equal(1))
}

func TestWatchGone(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()
	tracker.SetResourceVersion(10)

	server.FailWatch(http.StatusGone)
	Expect(informer.Start(context.Background())).Should(Succeed())

	Eventually(server.ListCount, timeout).Should(Equal(2))
	Eventually(tracker.Watchers, timeout).Should(Equal(1))
	Expect(r.errors()).Should(ConsistOf(MatchError(types.ErrResynced)))
}

func TestCompactedResourceVersion(t *testing.T) {
	RegisterTestingT(t)

	fakeClock := testingclock.NewFakeClock(time.Now())
	server, informer, r := newTestInformer(t, func(opts *Options[object]) {
		opts.Clock = fakeClock
	})
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	tracker.CloseWatches()
	Eventually(fakeClock.HasWaiters, timeout).Should(BeTrue())
	_, _ = tracker.Create(fake.NewObject("default", "a"))
	tracker.Compact()
	fakeClock.Step(time.Second)

	// resume from 0 is too old, list again
	Eventually(server.ListCount, timeout).Should(Equal(2))
	Eventually(r.errors, timeout).Should(ConsistOf(MatchError(types.ErrResynced)))
	Eventually(func() int { return informer.Store().Len() }, timeout).Should(Equal(1))
}

func TestListFailure(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	server.FailList(http.StatusForbidden)

	err := informer.Start(context.Background())
	Expect(types.StatusCode(err)).Should(BeEquivalentTo(http.StatusForbidden))
	Expect(informer.State()).Should(Equal(StateStopped))
	Expect(informer.HasSynced()).Should(BeFalse())
	Expect(informer.LastSyncResourceVersion()).Should(BeEmpty())
	Eventually(r.types, timeout).Should(Equal([]schema.EventType{schema.EventError}))
	Expect(server.WatchQueries()).Should(BeEmpty())

	// start again after the server recovered
	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(server.Tracker().Watchers, timeout).Should(Equal(1))
}

func TestResyncListFailure(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	server.FailList(http.StatusForbidden)
	tracker.SendError(expiredStatus())

	Eventually(informer.State, timeout).Should(Equal(StateStopped))
	Eventually(r.errors, timeout).Should(HaveLen(1))
	Expect(types.StatusCode(r.errors()[0])).Should(BeEquivalentTo(http.StatusForbidden))
	Consistently(server.WatchQueries, 200*time.Millisecond).Should(HaveLen(1))
}

func TestDecodeErrorKeepsWatching(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	tracker.SendRaw(`{"type":"UNKNOWN","object":{}}`)
	tracker.SendError(metav1.Status{Code: http.StatusInternalServerError, Message: "etcd unavailable"})
	_, _ = tracker.Create(fake.NewObject("default", "a"))

	Eventually(r.types, timeout).Should(Equal([]schema.EventType{
		schema.EventConnect, schema.EventError, schema.EventError, schema.EventAdded,
	}))
	Expect(types.IsDecodeErr(r.errors()[0])).Should(BeTrue())
	Expect(types.StatusCode(r.errors()[1])).Should(BeEquivalentTo(http.StatusInternalServerError))
	Expect(server.ListCount()).Should(Equal(1))
	Expect(informer.State()).Should(Equal(StateWatching))
}

func TestStartTwice(t *testing.T) {
	RegisterTestingT(t)

	server, informer, _ := newTestInformer(t, nil)

	Expect(informer.Start(context.Background())).Should(Succeed())
	Expect(informer.Start(context.Background())).Should(Succeed())
	Expect(informer.IsStarted()).Should(BeTrue())
	Expect(server.ListCount()).Should(Equal(1))
}

func TestStopInHandler(t *testing.T) {
	RegisterTestingT(t)

	server, informer, r := newTestInformer(t, nil)
	tracker := server.Tracker()
	informer.AddEventHandler(EventHandlerFuncs[object]{
		AddFunc: func(object) { informer.Stop() },
	})

	Expect(informer.Start(context.Background())).Should(Succeed())
	Eventually(tracker.Watchers, timeout).Should(Equal(1))

	_, _ = tracker.Create(fake.NewObject("default", "a"))
	_, _ = tracker.Create(fake.NewObject("default", "b"))
	Eventually(informer.State, timeout).Should(Equal(StateStopped))
	Consistently(r.types, 200*time.Millisecond).ShouldNot(ContainElement(schema.EventDisconnect))
}

func TestContextCanceled(t *testing.T) {
	RegisterTestingT(t)

	server, informer, _ := newTestInformer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	Expect(informer.Start(ctx)).Should(Succeed())
	Eventually(server.Tracker().Watchers, timeout).Should(Equal(1))

	cancel()
	Eventually(informer.State, timeout).Should(Equal(StateStopped))
	Eventually(server.Tracker().Watchers, timeout).Should(BeZero())
}

func TestCacheDisabled(t *testing.T) {
	t.Run("known resource version skips list", func(t *testing.T) {
		RegisterTestingT(t)

		server, informer, _ := newTestInformer(t, func(opts *Options[object]) {
			opts.DisableCache = true
			opts.ResourceVersion = "5"
		})
		server.Tracker().SetResourceVersion(10)

		Expect(informer.Start(context.Background())).Should(Succeed())
		Expect(informer.Store()).Should(BeNil())
		Expect(informer.HasSynced()).Should(BeTrue())
		Eventually(server.WatchQueries, timeout).Should(HaveLen(1))
		Expect(server.WatchQueries()[0].Get("resourceVersion")).Should(Equal("5"))
		Expect(server.ListCount()).Should(BeZero())
	})

	t.Run("list seeds resource version", func(t *testing.T) {
		RegisterTestingT(t)

		server, informer, r := newTestInformer(t, func(opts *Options[object]) {
			opts.DisableCache = true
		})
		tracker := server.Tracker()
		tracker.SetResourceVersion(10)

		Expect(informer.Start(context.Background())).Should(Succeed())
		Eventually(server.WatchQueries, timeout).Should(HaveLen(1))
		Expect(server.WatchQueries()[0].Get("resourceVersion")).Should(Equal("10"))

		_, _ = tracker.Create(fake.NewObject("default", "a"))
		Eventually(r.types, timeout).Should(ContainElement(schema.EventAdded))
		Expect(informer.LastSyncResourceVersion()).Should(Equal("11"))
	})

	t.Run("list failure watches from now", func(t *testing.T) {
		RegisterTestingT(t)

		server, informer, r := newTestInformer(t, func(opts *Options[object]) {
			opts.DisableCache = true
		})
		server.FailList(http.StatusForbidden)

		Expect(informer.Start(context.Background())).Should(Succeed())
		Eventually(r.errors, timeout).Should(HaveLen(1))
		Eventually(server.WatchQueries, timeout).Should(HaveLen(1))
		Expect(server.WatchQueries()[0].Has("resourceVersion")).Should(BeFalse())
		Expect(informer.State()).Should(Equal(StateWatching))
	})
}

func TestStateString(t *testing.T) {
	RegisterTestingT(t)

	Expect(StateStopped.String()).Should(Equal("Stopped"))
	Expect(StateReconnectPending.String()).Should(Equal("ReconnectPending"))
	Expect(State(10).String()).Should(Equal("State(10)"))
}
