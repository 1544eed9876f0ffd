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

package healthz

import (
	"fmt"
	"net/http"

	"k8s.io/apiserver/pkg/server/healthz"
)

// PingHealthz returns true automatically when checked
var PingHealthz = healthz.PingHealthz

// LogHealthz returns true if logging is not blocked
var LogHealthz = healthz.LogHealthz

// NamedCheck returns a healthz checker for the given name and function.
var NamedCheck = healthz.NamedCheck

// SyncedInformer is the informer checked by NewInformerSyncHealthz.
type SyncedInformer interface {
	HasSynced() bool
	IsStarted() bool
}

type informerSync struct {
	informers map[string]SyncedInformer
}

var _ healthz.HealthChecker = &informerSync{}

// NewInformerSyncHealthz returns a new HealthChecker that will pass only if
// all the informers are running and have synced, keyed by informer name.
func NewInformerSyncHealthz(informers map[string]SyncedInformer) healthz.HealthChecker {
	h := &informerSync{informers: make(map[string]SyncedInformer, len(informers))}
	for name, informer := range informers {
		h.informers[name] = informer
	}
	return h
}

func (i *informerSync) Name() string {
	return "informer-sync"
}

func (i *informerSync) Check(_ *http.Request) error {
	for name, informer := range i.informers {
		if !informer.IsStarted() {
			return fmt.Errorf("informer %s not started", name)
		}
		if !informer.HasSynced() {
			return fmt.Errorf("informer %s not synced yet", name)
		}
	}
	return nil
}

// WithEnable returns checker when enable is nill or true, else returns nopHealthz.
func WithEnable(enable *bool, checker healthz.HealthChecker) healthz.HealthChecker {
	if enable == nil || *enable {
		return checker
	}
	return healthz.NamedCheck(checker.Name(), func(r *http.Request) error {
		return nil
	})
}

// InstallHandler registers handlers for health checking on the path
// "/healthz" to server.
func InstallHandler(s server, checks ...healthz.HealthChecker) {
	healthz.InstallHandler(muxFunc(s.Register), checks...)
}

// server is an interface describing the methods InstallHandler requires.
type server interface {
	Register(pattern string, handler http.Handler)
}

type muxFunc func(pattern string, handler http.Handler)

func (mux muxFunc) Handle(pattern string, handler http.Handler) {
	mux(pattern, handler)
}
