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

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/everoute/kube-informer/pkg/client"
	"github.com/everoute/kube-informer/pkg/constants"
	"github.com/everoute/kube-informer/pkg/healthz"
	"github.com/everoute/kube-informer/pkg/informer"
	"github.com/everoute/kube-informer/pkg/metrics"
	"github.com/everoute/kube-informer/pkg/schema"
	"github.com/everoute/kube-informer/pkg/store"
	"github.com/everoute/kube-informer/pkg/utils"
	"github.com/everoute/kube-informer/pkg/utils/sync"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kube-informer",
		Short: "List and watch resources of kubernetes api server",
	}

	klog.InitFlags(flag.CommandLine)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.AddCommand(newWatchCommand())
	return rootCmd
}

func newWatchCommand() *cobra.Command {
	var kubeconfig, configfile string
	var path, resource, namespace, resourceVersion string
	var disableCache, printEvents, colored bool

	wc := &cobra.Command{
		Use:   "watch [options]",
		Short: "Watch a collection and log its changes, serves metrics and healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := &Options{}
			if err := options.LoadFromFile(kubeconfig, configfile); err != nil {
				klog.Errorf("unexpected error while load config: %s", err)
				return err
			}

			flagSet := cmd.Flags()
			if flagSet.Changed("path") {
				options.Config.Informer.Path = path
			}
			if flagSet.Changed("resource") {
				options.Config.Informer.Resource = resource
			}
			if flagSet.Changed("namespace") {
				options.Config.Informer.Namespace = namespace
			}
			if flagSet.Changed("resource-version") {
				options.Config.Informer.ResourceVersion = resourceVersion
			}
			if flagSet.Changed("disable-cache") {
				options.Config.Informer.DisableCache = disableCache
			}

			var handler func(schema.WatchEvent[*unstructured.Unstructured])
			if printEvents {
				handler = newEventPrinter(cmd.OutOrStdout(), colored).Print
			}
			return run(signals.SetupSignalHandler(), options, handler)
		},
	}

	var flagSet = wc.Flags()

	flagSet.StringVar(&kubeconfig, "kubeconfig", "", "kubeconfig for connection with apiserver")
	flagSet.StringVar(&configfile, "configfile", "", "configfile for informer and server options")
	flagSet.StringVar(&path, "path", constants.DefaultPath, "the collection to watch, e.g. /api/v1/namespaces/default/pods")
	flagSet.StringVar(&resource, "resource", "", "group/version/resource to watch instead of path, e.g. apps/v1/deployments")
	flagSet.StringVar(&namespace, "namespace", "", "namespace of the resource, empty for all namespaces")
	flagSet.StringVar(&resourceVersion, "resource-version", "", "resource version watch from, only works with --disable-cache")
	flagSet.BoolVar(&disableCache, "disable-cache", false, "watch without keep objects in cache")
	flagSet.BoolVar(&printEvents, "print", false, "print events to stdout instead of log")
	flagSet.BoolVar(&colored, "color", true, "colorize printed event types")

	return wc
}

// run watches until ctx done, events go to handler, or the log when nil.
func run(ctx context.Context, options *Options, handler func(schema.WatchEvent[*unstructured.Unstructured])) error {
	c, err := options.NewClient()
	if err != nil {
		return err
	}

	informerConfig := options.Config.Informer
	var listFunc client.ListFunc[*unstructured.Unstructured]
	if informerConfig.Resource != "" {
		gvr, path, err := informerConfig.ResolveResource()
		if err != nil {
			return err
		}
		dynamicClient, err := dynamic.NewForConfig(options.RestConfig())
		if err != nil {
			return err
		}
		informerConfig.Path = path
		listFunc = client.NewDynamicLister(dynamicClient, gvr, informerConfig.Namespace)
	}

	informerMetric := metrics.NewInformerMetric()
	informerMetric.Init()

	watcher, err := informer.New(informer.Options[*unstructured.Unstructured]{
		Path:               informerConfig.Path,
		Client:             c,
		ListFunc:           listFunc,
		Backoff:            backoff.NewConstantBackOff(informerConfig.ReconnectInterval),
		DisableCache:       informerConfig.DisableCache,
		ResourceVersion:    informerConfig.ResourceVersion,
		ResyncOnDisconnect: informerConfig.ResyncOnDisconnect,
		Metrics:            informerMetric,
	})
	if err != nil {
		return err
	}
	if handler == nil {
		handler = logEvent
	}
	watcher.AddRawHandler(handler)

	mux := http.NewServeMux()
	informerMetric.InstallHandler(mux.Handle)
	healthz.InstallHandler(serverFunc(mux.Handle),
		healthz.PingHealthz,
		healthz.LogHealthz,
		healthz.WithEnable(options.Config.Server.EnableHealthz, healthz.NewInformerSyncHealthz(
			map[string]healthz.SyncedInformer{informerConfig.Path: watcher},
		)),
	)

	var runnables sync.Runnables
	runnables.Add("informer "+informerConfig.Path, func(ctx context.Context) error {
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()

		if store := watcher.Store(); store != nil {
			logNamespaces(store)
		}
		<-ctx.Done()
		return nil
	})
	runnables.Add("http server "+options.Config.Server.MetricsAddr, func(ctx context.Context) error {
		return serve(ctx, options.Config.Server.MetricsAddr, mux)
	})

	klog.Infof("watch %s on %s", informerConfig.Path, utils.RedactURL(c.Host))
	return runnables.Run(ctx)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logEvent(event schema.WatchEvent[*unstructured.Unstructured]) {
	switch event.Type {
	case schema.EventConnect, schema.EventDisconnect:
		klog.Infof("%s %s", event.Type, utils.RedactURL(event.URL))
	case schema.EventError:
		klog.Errorf("%s %s", event.Type, event.Err)
	case schema.EventBookmark:
		klog.V(2).Infof("%s %s", event.Type, event.ResourceVersion())
	default:
		klog.Infof("%s %s@%s", event.Type, schema.KeyOf(event.Object), event.ResourceVersion())
	}
}

// logNamespaces logs the number of objects of each namespace.
func logNamespaces(s *store.Store[*unstructured.Unstructured]) {
	namespaced := 0
	for _, namespace := range s.Namespaces() {
		count := len(s.List(namespace))
		namespaced += count
		klog.Infof("listed %d objects in namespace %s", count, namespace)
	}
	if clusterScoped := s.Len() - namespaced; clusterScoped > 0 {
		klog.Infof("listed %d cluster scoped objects", clusterScoped)
	}
}

type serverFunc func(pattern string, handler http.Handler)

func (server serverFunc) Register(pattern string, handler http.Handler) {
	server(pattern, handler)
}
