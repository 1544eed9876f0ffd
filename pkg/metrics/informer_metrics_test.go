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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInformerMetric(t *testing.T) {
	RegisterTestingT(t)

	m := NewInformerMetric()
	m.Init()

	m.EventReceived("/api/v1/pods", "ADDED")
	m.EventReceived("/api/v1/pods", "ADDED")
	m.EventReceived("/api/v1/pods", "DELETED")
	m.Reconnect("/api/v1/pods")
	m.SetStoreObjects("/api/v1/pods", 5)
	m.SetState("/api/v1/pods", 2)

	Expect(testutil.ToFloat64(m.events.WithLabelValues("/api/v1/pods", "ADDED"))).Should(BeEquivalentTo(2))
	Expect(testutil.ToFloat64(m.reconnects.WithLabelValues("/api/v1/pods"))).Should(BeEquivalentTo(1))
	Expect(testutil.ToFloat64(m.storeObjects.WithLabelValues("/api/v1/pods"))).Should(BeEquivalentTo(5))
	Expect(testutil.ToFloat64(m.resyncs.WithLabelValues("/api/v1/pods"))).Should(BeZero())

	mux := http.NewServeMux()
	m.InstallHandler(mux.Handle)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	Expect(err).Should(Succeed())
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	Expect(strings.Contains(string(body), `everoute_informer_events_total{resource="/api/v1/pods",type="DELETED"} 1`)).Should(BeTrue())
	Expect(string(body)).Should(ContainSubstring(`everoute_informer_state{resource="/api/v1/pods"} 2`))
}

func TestNilInformerMetric(t *testing.T) {
	RegisterTestingT(t)

	var m *InformerMetric
	Expect(func() {
		m.EventReceived("/api/v1/pods", "ADDED")
		m.DecodeError("/api/v1/pods")
		m.Reconnect("/api/v1/pods")
		m.Resync("/api/v1/pods")
		m.ListFailed("/api/v1/pods")
		m.SetState("/api/v1/pods", 0)
		m.SetStoreObjects("/api/v1/pods", 0)
	}).ShouldNot(Panic())
}
