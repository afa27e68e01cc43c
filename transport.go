// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxylb

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// Transport sends a single HTTP request to a single resolved backend
// address. It is the only outbound contract in the request path; the
// health prober's transport is structurally identical, so one
// implementation can serve both.
//
// Send must honor ctx cancellation and must not retry: retry policy
// belongs to the [Dispatcher].
type Transport interface {
	Send(ctx context.Context, addr string, req *http.Request) (*http.Response, error)
}

// TransportFunc is a func that implements the [Transport] interface.
type TransportFunc func(ctx context.Context, addr string, req *http.Request) (*http.Response, error)

// Send implements the Transport interface.
func (f TransportFunc) Send(ctx context.Context, addr string, req *http.Request) (*http.Response, error) {
	return f(ctx, addr, req)
}

// TransportOption is an option used to customize the behavior of the
// transport returned by NewTransport.
type TransportOption interface {
	applyTransport(*transportOptions)
}

type transportOptions struct {
	h2c      bool
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

type transportOptionFunc func(*transportOptions)

func (f transportOptionFunc) applyTransport(opts *transportOptions) {
	f(opts)
}

// WithDialer configures the transport to use the given function to
// establish network connections. If no WithDialer option is provided, a
// default [net.Dialer] is used that uses a 30-second dial timeout and
// configures the connection to use TCP keep-alive every 30 seconds.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithH2C configures the transport to speak HTTP/2 over plain-text
// connections instead of HTTP/1.1.
func WithH2C() TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.h2c = true
	})
}

// NewTransport returns the default Transport implementation, backed by
// net/http. Backends are addressed as plain-text host:port; the original
// request URL's scheme and host are replaced with the target's.
func NewTransport(opts ...TransportOption) Transport {
	options := transportOptions{
		dialFunc: defaultDialer.DialContext,
	}
	for _, opt := range opts {
		opt.applyTransport(&options)
	}
	if options.h2c {
		return &httpTransport{roundTripper: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return options.dialFunc(ctx, network, addr)
			},
		}}
	}
	return &httpTransport{roundTripper: &http.Transport{
		DialContext:           options.dialFunc,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}}
}

type httpTransport struct {
	roundTripper http.RoundTripper
}

func (t *httpTransport) Send(ctx context.Context, addr string, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.URL.Scheme = "http"
	out.URL.Host = addr
	// server-received requests carry RequestURI, which RoundTrip rejects
	out.RequestURI = ""
	return t.roundTripper.RoundTrip(out)
}
