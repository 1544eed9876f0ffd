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
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
)

// Client holds the connection settings of the api server. The informer
// only uses it to build and send requests, it never manages credentials.
type Client struct {
	// Host is the base url of the server, e.g. https://10.0.0.1:6443
	Host string `yaml:"host"`

	// AllowInsecure set whether to check the server certificates
	AllowInsecure bool `yaml:"allow_insecure"`

	// HTTPClient sends list and watch requests.
	// If nil, http.DefaultClient will be used.
	HTTPClient *http.Client `yaml:"-"`

	// Authorize applies credentials to each outgoing request.
	Authorize func(req *http.Request) `yaml:"-"`

	// ListRetryMax is the max retry times of a failed list request.
	ListRetryMax int `yaml:"list_retry_max"`
}

// NewForConfig creates a Client with TLS and auth settings from rest config.
func NewForConfig(config *rest.Config) (*Client, error) {
	httpClient, err := rest.HTTPClientFor(config)
	if err != nil {
		return nil, fmt.Errorf("unable create http client from rest config: %w", err)
	}
	return &Client{
		Host:       config.Host,
		HTTPClient: httpClient,
	}, nil
}

// URL returns the full url of path with query.
func (c *Client) URL(path string, query url.Values) (string, error) {
	host := c.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %s: %s", c.Host, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// NewRequest creates a GET request of path with credentials applied.
func (c *Client) NewRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u, err := c.URL(path, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed call http.NewRequest: %s", err)
	}
	c.setHeader(req)

	klog.V(10).Infof("request %s %s", req.Method, u)
	return req, nil
}

func (c *Client) setHeader(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.Authorize != nil {
		c.Authorize(req)
	}
}

// we reuse the insecureClient to reuse the underlay tcp connection
var insecureClient = func() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	return &http.Client{Transport: transport}
}()

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		if c.AllowInsecure {
			return insecureClient
		}
		return http.DefaultClient
	}
	return c.HTTPClient
}

// BearerToken returns an Authorize func which sets the bearer token header.
func BearerToken(token string) func(req *http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
