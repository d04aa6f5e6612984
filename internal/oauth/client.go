// Package oauth implements the credential refresh side of the engine:
// the Google token endpoint client, Code Assist onboarding, the rate
// limited worker pipeline and the browser consent flow.
package oauth

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"pollux-go/internal/constants"
	apperrors "pollux-go/internal/errors"
)

// ClientOptions shapes an outbound HTTP client.
type ClientOptions struct {
	// Proxy, when non-empty, routes all requests through the given URL.
	// Empty falls back to the standard proxy environment variables.
	Proxy string
	// Multiplex selects pooled HTTP/2 connections instead of one-shot
	// HTTP/1.1 with Connection: close.
	Multiplex bool
	Timeout   time.Duration
}

// NewHTTPClient builds a client with the service's dial and TLS budgets
// and one of the two transport profiles.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	profile := constants.GetDirectTransportConfig()
	if opts.Multiplex {
		profile = constants.GetMultiplexedTransportConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: constants.DefaultTLSHandshakeTimeout,
		MaxIdleConns:        profile.MaxIdleConns,
		MaxIdleConnsPerHost: profile.MaxIdleConnsPerHost,
		IdleConnTimeout:     profile.IdleConnTimeout,
		DisableKeepAlives:   profile.DisableKeepAlives,
		ForceAttemptHTTP2:   profile.EnableHTTP2,
		Proxy:               http.ProxyFromEnvironment,
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, apperrors.URLParse(opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.RefreshRequestTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
