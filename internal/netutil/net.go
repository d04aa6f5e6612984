// Package netutil resolves the real client address behind proxy
// headers for access logging.
package netutil

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP returns the caller's IP, trusting X-Forwarded-For and
// X-Real-IP before falling back to the socket peer.
func ClientIP(c *gin.Context) net.IP {
	if c == nil {
		return nil
	}
	return FromRequest(c.Request)
}

// FromRequest extracts the client IP from one HTTP request.
func FromRequest(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First hop is the originating client.
		first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// SourceClass buckets an IP for log filtering.
func SourceClass(ip net.IP) string {
	switch {
	case ip == nil:
		return "unknown"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	default:
		return "public"
	}
}

// String renders the IP, empty for nil.
func String(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
