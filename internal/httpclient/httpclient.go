package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout tolerates slow high-resolution image generation.
const DefaultTimeout = 600 * time.Second

type Options struct {
	// PreferIPv4 dials tcp4 for plain "tcp" dials; some hosts have broken v6 routes.
	PreferIPv4  bool
	Timeout     time.Duration
	DialTimeout time.Duration
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(opts),
	}
}

func newTransport(opts Options) *http.Transport {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, dialNetwork(network, opts.PreferIPv4), addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

func dialNetwork(network string, preferIPv4 bool) string {
	if preferIPv4 && network == "tcp" {
		return "tcp4"
	}
	return network
}
