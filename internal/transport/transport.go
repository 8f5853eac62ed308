// Package transport builds the shared *http.Client every provider adapter
// issues upstream requests through. One client (and its connection pool) is
// built once at startup and shared across configuration snapshots rather
// than built per request,
// grounded on the pooling idiom in the teacher's cmd/server/main.go database
// bootstrap, generalized here to HTTP connections instead of SQL ones.
package transport

import (
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Options controls the transport's timeouts and connection limits.
type Options struct {
	RequestTimeout      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultOptions mirrors the per-provider TimeoutSeconds default the
// teacher's config.go applies (60s) and a connection pool sized for a
// gateway fanning out to a handful of upstream hosts.
func DefaultOptions() Options {
	return Options{
		RequestTimeout:      60 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
}

// New builds an *http.Client with HTTP/2 explicitly configured over the
// standard transport, since streaming chat completions benefit from
// multiplexed connections to the same upstream host.
func New(opts Options) (*http.Client, error) {
	base := &http.Transport{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: base,
		Timeout:   opts.RequestTimeout,
	}, nil
}
