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

package constants

import "time"

const (
	// metric
	MetricPath           = "/metrics"
	MetricNamespace      = "everoute"
	MetricSubSystem      = "informer"
	MetricResourceLabel  = "resource"
	MetricEventTypeLabel = "type"

	MetricEventsTotal       = "events_total"
	MetricDecodeErrorsTotal = "decode_errors_total"
	MetricReconnectsTotal   = "reconnects_total"
	MetricResyncsTotal      = "resyncs_total"
	MetricListFailuresTotal = "list_failures_total"
	MetricState             = "state"
	MetricStoreObjects      = "store_objects"

	HealthzPath = "/healthz"

	// DefaultReconnectInterval is the wait before resume a disconnected watch.
	DefaultReconnectInterval = time.Second

	DefaultMetricsAddr = "0.0.0.0:9090"
	DefaultPath        = "/api/v1/pods"
)
