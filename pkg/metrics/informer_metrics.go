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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	klog "k8s.io/klog/v2"

	"github.com/everoute/kube-informer/pkg/constants"
)

// InformerMetric records the watch activity of informers. A nil
// *InformerMetric is valid and records nothing.
type InformerMetric struct {
	reg *prometheus.Registry

	events       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	resyncs      *prometheus.CounterVec
	listFailures *prometheus.CounterVec
	state        *prometheus.GaugeVec
	storeObjects *prometheus.GaugeVec
}

func newInformerCounterOpt(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubSystem,
		Name:      name,
		Help:      help,
	}
}

func newInformerGaugeOpt(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubSystem,
		Name:      name,
		Help:      help,
	}
}

func NewInformerMetric() *InformerMetric {
	resource := []string{constants.MetricResourceLabel}

	m := &InformerMetric{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(newInformerCounterOpt(
			constants.MetricEventsTotal,
			"The count of events published by the informer"),
			[]string{constants.MetricResourceLabel, constants.MetricEventTypeLabel}),
		decodeErrors: prometheus.NewCounterVec(newInformerCounterOpt(
			constants.MetricDecodeErrorsTotal,
			"The count of watch stream lines could not be decoded"), resource),
		reconnects: prometheus.NewCounterVec(newInformerCounterOpt(
			constants.MetricReconnectsTotal,
			"The count of watch resumed after disconnect"), resource),
		resyncs: prometheus.NewCounterVec(newInformerCounterOpt(
			constants.MetricResyncsTotal,
			"The count of full list after resource version expired"), resource),
		listFailures: prometheus.NewCounterVec(newInformerCounterOpt(
			constants.MetricListFailuresTotal,
			"The count of failed list requests"), resource),
		state: prometheus.NewGaugeVec(newInformerGaugeOpt(
			constants.MetricState,
			"Current state of the informer, 0 stopped, 1 listing, 2 watching, 3 reconnect pending"), resource),
		storeObjects: prometheus.NewGaugeVec(newInformerGaugeOpt(
			constants.MetricStoreObjects,
			"The number of objects in the informer cache"), resource),
	}
	return m
}

func (m *InformerMetric) Init() {
	collectors := []prometheus.Collector{
		m.events, m.decodeErrors, m.reconnects, m.resyncs, m.listFailures, m.state, m.storeObjects,
	}
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			klog.Fatalf("Failed to init informerMetric %s", err)
		}
	}
}

// Registry returns the registry all informer metrics registered into.
func (m *InformerMetric) Registry() *prometheus.Registry {
	return m.reg
}

func (m *InformerMetric) InstallHandler(registryFunc func(path string, handler http.Handler)) {
	registryFunc(constants.MetricPath, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError}))
}

func (m *InformerMetric) EventReceived(resource, eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(resource, eventType).Inc()
}

func (m *InformerMetric) DecodeError(resource string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(resource).Inc()
}

func (m *InformerMetric) Reconnect(resource string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(resource).Inc()
}

func (m *InformerMetric) Resync(resource string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(resource).Inc()
}

func (m *InformerMetric) ListFailed(resource string) {
	if m == nil {
		return
	}
	m.listFailures.WithLabelValues(resource).Inc()
}

func (m *InformerMetric) SetState(resource string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(resource).Set(float64(state))
}

func (m *InformerMetric) SetStoreObjects(resource string, num int) {
	if m == nil {
		return
	}
	m.storeObjects.WithLabelValues(resource).Set(float64(num))
}
