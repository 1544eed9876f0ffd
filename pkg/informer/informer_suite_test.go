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

package informer_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/rand"

	"github.com/everoute/kube-informer/pkg/informer"
	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/server/fake"
)

const (
	timeout  = time.Second * 10
	interval = time.Millisecond * 250
)

var (
	server *fake.Server
	ctx    context.Context
	cancel context.CancelFunc
)

func TestInformer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Informer Suite")
}

var _ = BeforeSuite(func() {
	server = fake.NewServer()
	server.Serve()
	ctx, cancel = context.WithCancel(context.Background())
})

var _ = AfterSuite(func() {
	By("tearing down the environment")
	cancel()
	server.Stop()
})

type configMapHandler struct {
	added   chan *corev1.ConfigMap
	updated chan *corev1.ConfigMap
	deleted chan *corev1.ConfigMap
	errs    chan error
}

func newConfigMapHandler() *configMapHandler {
	return &configMapHandler{
		added:   make(chan *corev1.ConfigMap, 100),
		updated: make(chan *corev1.ConfigMap, 100),
		deleted: make(chan *corev1.ConfigMap, 100),
		errs:    make(chan error, 100),
	}
}

func (h *configMapHandler) OnAdd(obj *corev1.ConfigMap)    { h.added <- obj }
func (h *configMapHandler) OnUpdate(obj *corev1.ConfigMap) { h.updated <- obj }
func (h *configMapHandler) OnDelete(obj *corev1.ConfigMap) { h.deleted <- obj }
func (h *configMapHandler) OnBookmark(*corev1.ConfigMap)   {}
func (h *configMapHandler) OnError(err error)              { h.errs <- err }
func (h *configMapHandler) OnConnect(string)               {}
func (h *configMapHandler) OnDisconnect(string)            {}

var _ = Describe("Informer", func() {
	var configMapInformer *informer.Informer[*corev1.ConfigMap]
	var handler *configMapHandler
	var namespace string

	BeforeEach(func() {
		namespace = rand.String(6)
		handler = newConfigMapHandler()

		var err error
		configMapInformer, err = informer.New(informer.Options[*corev1.ConfigMap]{
			Path:   "/api/v1/namespaces/" + namespace + "/configmaps",
			Client: server.NewClient(),
			Codec:  schema.JSONCodec(func() *corev1.ConfigMap { return &corev1.ConfigMap{} }),
		})
		Expect(err).Should(Succeed())
		configMapInformer.AddEventHandler(handler)
	})

	AfterEach(func() {
		configMapInformer.Stop()
	})

	When("objects exist before start", func() {
		var name string

		BeforeEach(func() {
			name = rand.String(6)
			_, err := server.Tracker().Create(fake.NewObject(namespace, name))
			Expect(err).Should(Succeed())
			Expect(configMapInformer.Start(ctx)).Should(Succeed())
		})
		AfterEach(func() {
			_ = server.Tracker().Delete(namespace, name)
		})

		It("should list objects into store", func() {
			Expect(configMapInformer.HasSynced()).Should(BeTrue())
			obj, ok := configMapInformer.Store().Get(name, namespace)
			Expect(ok).Should(BeTrue())
			Expect(obj.Kind).Should(Equal("ConfigMap"))
		})

		It("should not notify listed objects as added", func() {
			Consistently(handler.added, time.Second, interval).ShouldNot(Receive())
		})

		It("should notify the changes of objects", func() {
			obj, _ := server.Tracker().Get(namespace, name)
			obj.SetLabels(map[string]string{"foo": "bar"})
			_, err := server.Tracker().Update(obj)
			Expect(err).Should(Succeed())

			var updated *corev1.ConfigMap
			Eventually(handler.updated, timeout, interval).Should(Receive(&updated))
			Expect(updated.Labels).Should(HaveKeyWithValue("foo", "bar"))

			Eventually(func() map[string]string {
				cm, _ := configMapInformer.Store().Get(name, namespace)
				return cm.Labels
			}, timeout, interval).Should(HaveKeyWithValue("foo", "bar"))
		})
	})

	When("server restarts the watch", func() {
		BeforeEach(func() {
			Expect(configMapInformer.Start(ctx)).Should(Succeed())
			Eventually(server.Tracker().Watchers, timeout, interval).ShouldNot(BeZero())
		})

		It("should resume and receive new objects", func() {
			server.Tracker().CloseWatches()

			name := rand.String(6)
			_, err := server.Tracker().Create(fake.NewObject(namespace, name))
			Expect(err).Should(Succeed())

			var added *corev1.ConfigMap
			Eventually(handler.added, timeout, interval).Should(Receive(&added))
			Expect(added.Name).Should(Equal(name))
			Expect(configMapInformer.Store().List(namespace)).Should(HaveLen(1))

			Expect(server.Tracker().Delete(namespace, name)).Should(Succeed())
			Eventually(handler.deleted, timeout, interval).Should(Receive())
			Expect(configMapInformer.Store().List(namespace)).Should(BeEmpty())
		})
	})
})
