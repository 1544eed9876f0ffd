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

package conn

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc/test/bufconn"
)

const (
	bufferSize  = 1 << 16 // 64 KB
	dialTimeout = 5 * time.Second
)

// Listener is an in-memory net.Listener. Clients connect to it with
// DialContext, or send http requests through it as a http.RoundTripper.
type Listener struct {
	*bufconn.Listener
	transport *http.Transport
}

// Listen returns a new in-memory Listener.
func Listen() *Listener {
	l := &Listener{Listener: bufconn.Listen(bufferSize)}
	l.transport = &http.Transport{
		DialContext:       l.DialContext,
		ForceAttemptHTTP2: false,
	}
	return l
}

// DialContext return new net.Conn connection to the Listener
func (l *Listener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	var conn net.Conn
	var err error
	var done = make(chan struct{})

	go func() {
		conn, err = l.Dial()
		select {
		case done <- struct{}{}:
			close(done)
		default:
			if err == nil {
				_ = conn.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return conn, err
	case <-time.After(dialTimeout):
		return nil, fmt.Errorf("dial timeout")
	}
}

// RoundTrip sends the request over the in-memory connection.
func (l *Listener) RoundTrip(req *http.Request) (*http.Response, error) {
	return l.transport.RoundTrip(req)
}

// CloseIdleConnections closes the kept-alive connections of the transport.
func (l *Listener) CloseIdleConnections() {
	l.transport.CloseIdleConnections()
}
