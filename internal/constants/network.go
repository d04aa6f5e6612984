package constants

import "time"

// HTTP client dial/TLS settings shared by the refresh and upstream clients.
const (
	DefaultDialTimeout         = 5 * time.Second
	DefaultTLSHandshakeTimeout = 8 * time.Second
	DefaultKeepAlive           = 30 * time.Second

	MultiplexedMaxIdleConns        = 256
	MultiplexedMaxIdleConnsPerHost = 64
	MultiplexedIdleConnTimeout     = 90 * time.Second
)

// TransportConfig selects between the two outbound connection profiles.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	EnableHTTP2         bool
}

// GetDirectTransportConfig returns the HTTP/1.1 profile used when
// multiplexing is disabled: no idle pooling, Connection: close per request.
func GetDirectTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: 0,
		IdleConnTimeout:     0,
		DisableKeepAlives:   true,
		EnableHTTP2:         false,
	}
}

// GetMultiplexedTransportConfig returns the HTTP/2 profile used when
// multiplexing is enabled.
func GetMultiplexedTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        MultiplexedMaxIdleConns,
		MaxIdleConnsPerHost: MultiplexedMaxIdleConnsPerHost,
		IdleConnTimeout:     MultiplexedIdleConnTimeout,
		DisableKeepAlives:   false,
		EnableHTTP2:         true,
	}
}
