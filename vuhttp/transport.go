// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vuhttp

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// TransportConfig bundles the knobs a Worker needs to build one
// *http.Transport, shared by every VU it owns. Mirrors fhttp.HTTPOptions'
// connection-pool fields (DisableFastClient path), generalized to the
// long-lived VU connection pool instead of a single fixed-QPS benchmark's.
type TransportConfig struct {
	// MaxConnsPerHost caps outbound connections per worker; 0 means the
	// net/http default (unlimited, bounded only by VU concurrency).
	MaxConnsPerHost int
	// InsecureSkipVerify disables TLS certificate validation, for hitting
	// self-signed test targets.
	InsecureSkipVerify bool
	// HTTP2 requests h2 (or h2c over plaintext when the target is http://)
	// instead of net/http's default HTTP/1.1.
	HTTP2 bool
	// DialTimeout bounds the TCP/TLS handshake.
	DialTimeout time.Duration
}

// NewTransport builds a *http.Transport (or an http2.Transport wrapped to
// satisfy http.RoundTripper, when cfg.HTTP2 is set) per cfg. One instance is
// meant to be shared by all VUs of a single engine.Worker, partitioning the
// connection pool the way fortio partitions load-generating threads.
func NewTransport(cfg TransportConfig) http.RoundTripper {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	tlsConf := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // opt-in only, for test targets

	if cfg.HTTP2 {
		// AllowHTTP + a plain-TCP DialTLSContext is the standard h2c recipe:
		// it lets http2.Transport speak cleartext HTTP/2 to targets that
		// don't negotiate ALPN, while still using real TLS when the target
		// is https://.
		return &http2.Transport{
			TLSClientConfig: tlsConf,
			AllowHTTP:       true,
			DialTLSContext: func(ctx context.Context, network, addr string, tc *tls.Config) (net.Conn, error) {
				d := &net.Dialer{Timeout: dialTimeout}
				if tc == nil {
					return d.DialContext(ctx, network, addr)
				}
				return tls.DialWithDialer(d, network, addr, tc)
			},
		}
	}

	return &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		TLSClientConfig:     tlsConf,
		TLSHandshakeTimeout: dialTimeout,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
	}
}
