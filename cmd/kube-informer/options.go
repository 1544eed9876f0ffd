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
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/everoute/kube-informer/pkg/client"
	"github.com/everoute/kube-informer/pkg/constants"
)

type Options struct {
	KubeConfig *rest.Config
	Config     *Config
}

type Config struct {
	Client   *client.Client  `yaml:"client"`
	Informer *InformerConfig `yaml:"informer"`
	Server   *ServerConfig   `yaml:"server"`
}

type InformerConfig struct {
	Path string `yaml:"path"`
	// Resource is the group/version/resource to watch, e.g. apps/v1/deployments
	// or v1/pods. It takes place of Path and lists with the dynamic client.
	Resource  string `yaml:"resource"`
	Namespace string `yaml:"namespace"`

	DisableCache       bool          `yaml:"disable_cache"`
	ResourceVersion    string        `yaml:"resource_version"`
	ResyncOnDisconnect bool          `yaml:"resync_on_disconnect"`
	ReconnectInterval  time.Duration `yaml:"reconnect_interval"`
}

type ServerConfig struct {
	MetricsAddr   string `yaml:"metrics_addr"`
	EnableHealthz *bool  `yaml:"enable_healthz"`
}

// LoadFromFile loads config from configfile, the rest config is built from
// kubeconfig unless the config file sets the client host.
func (o *Options) LoadFromFile(kubeconfig string, configfile string) error {
	o.setDefault()

	if configfile != "" {
		data, err := os.ReadFile(configfile)
		if err != nil {
			return err
		}
		if err = yaml.Unmarshal(data, o.Config); err != nil {
			return fmt.Errorf("unable unmarshal %s: %s", configfile, err)
		}
		o.setDefault()
	}

	if kubeconfig != "" || o.Config.Client.Host == "" {
		var err error
		o.KubeConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return err
		}
	}
	return nil
}

// NewClient returns the client connect to the api server, credentials of
// kubeconfig are used when set.
func (o *Options) NewClient() (*client.Client, error) {
	if o.KubeConfig == nil {
		return o.Config.Client, nil
	}

	c, err := client.NewForConfig(o.KubeConfig)
	if err != nil {
		return nil, err
	}
	c.ListRetryMax = o.Config.Client.ListRetryMax
	return c, nil
}

// RestConfig returns the kubeconfig, or a config to the client host.
func (o *Options) RestConfig() *rest.Config {
	if o.KubeConfig != nil {
		return o.KubeConfig
	}
	return &rest.Config{
		Host:            o.Config.Client.Host,
		TLSClientConfig: rest.TLSClientConfig{Insecure: o.Config.Client.AllowInsecure},
	}
}

// ResolveResource parses Resource into the gvr and its collection path.
func (c *InformerConfig) ResolveResource() (k8sschema.GroupVersionResource, string, error) {
	ix := strings.LastIndex(c.Resource, "/")
	if ix <= 0 || ix == len(c.Resource)-1 {
		return k8sschema.GroupVersionResource{}, "", fmt.Errorf("resource %q not in form group/version/resource", c.Resource)
	}
	gv, err := k8sschema.ParseGroupVersion(c.Resource[:ix])
	if err != nil {
		return k8sschema.GroupVersionResource{}, "", fmt.Errorf("resource %q: %w", c.Resource, err)
	}
	gvr := gv.WithResource(c.Resource[ix+1:])

	path := "/apis/" + gv.String()
	if gv.Group == "" {
		path = "/api/" + gv.Version
	}
	if c.Namespace != "" {
		path += "/namespaces/" + c.Namespace
	}
	return gvr, path + "/" + gvr.Resource, nil
}

func (o *Options) setDefault() {
	if o.Config == nil {
		o.Config = &Config{}
	}

	if o.Config.Client == nil {
		o.Config.Client = &client.Client{}
	}

	if o.Config.Informer == nil {
		o.Config.Informer = &InformerConfig{}
	}
	if o.Config.Informer.Path == "" {
		o.Config.Informer.Path = constants.DefaultPath
	}
	if o.Config.Informer.ReconnectInterval == 0 {
		o.Config.Informer.ReconnectInterval = constants.DefaultReconnectInterval
	}

	if o.Config.Server == nil {
		o.Config.Server = &ServerConfig{}
	}
	if o.Config.Server.MetricsAddr == "" {
		o.Config.Server.MetricsAddr = constants.DefaultMetricsAddr
	}
}
