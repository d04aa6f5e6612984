package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures across the credential engine and the proxy path.
type Kind int

const (
	KindUnknown Kind = iota
	// KindURLParse marks malformed endpoint or proxy URLs.
	KindURLParse
	// KindTransport marks network-level failures (dial, TLS, timeout, EOF).
	KindTransport
	// KindJSON marks undecodable payloads.
	KindJSON
	// KindMissingAccessToken marks a refresh that produced no access token.
	KindMissingAccessToken
	// KindMissingEmail marks an id_token without an email claim.
	KindMissingEmail
	// KindOAuthToken marks transient token-endpoint failures.
	KindOAuthToken
	// KindOAuthServer marks an authoritative OAuth error response such as
	// invalid_grant. Never retried; the credential is retired.
	KindOAuthServer
	// KindNoCredential marks an empty pool for the requested model.
	KindNoCredential
	// KindCoordinator marks a stopped or unreachable coordinator.
	KindCoordinator
	// KindDatabase marks storage failures.
	KindDatabase
	// KindUpstreamHTTP carries a non-2xx upstream response.
	KindUpstreamHTTP
	// KindGeminiServer marks upstream 5xx surfaced as bad gateway.
	KindGeminiServer
)

func (k Kind) String() string {
	switch k {
	case KindURLParse:
		return "url_parse"
	case KindTransport:
		return "transport"
	case KindJSON:
		return "json"
	case KindMissingAccessToken:
		return "missing_access_token"
	case KindMissingEmail:
		return "missing_email"
	case KindOAuthToken:
		return "oauth_token"
	case KindOAuthServer:
		return "oauth_server"
	case KindNoCredential:
		return "no_available_credential"
	case KindCoordinator:
		return "coordinator"
	case KindDatabase:
		return "database"
	case KindUpstreamHTTP:
		return "upstream_http"
	case KindGeminiServer:
		return "gemini_server"
	default:
		return "unknown"
	}
}

// Error is the kind-tagged error used inside the engine. Handlers translate
// it into the outbound APIError envelope; the coordinator branches on Kind
// to decide between retiring and restoring a credential.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// OAuthCode holds the server's error code for KindOAuthServer
	// ("invalid_grant", "invalid_client", ...).
	OAuthCode string
	// HTTPStatus, Header and Body describe the offending response for
	// KindUpstreamHTTP / KindGeminiServer, and the token-endpoint status
	// for KindOAuthToken.
	HTTPStatus int
	Header     http.Header
	Body       []byte
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrMissingAccessToken = &Error{Kind: KindMissingAccessToken, Msg: "refresh response contained no access token"}
	ErrMissingEmail       = &Error{Kind: KindMissingEmail, Msg: "id_token carried no email claim"}
	ErrNoCredential       = &Error{Kind: KindNoCredential, Msg: "no available credential"}
)

func URLParse(raw string, err error) *Error {
	return &Error{Kind: KindURLParse, Msg: fmt.Sprintf("parse %q", raw), Err: err}
}

func Transport(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Msg: msg, Err: err}
}

func InvalidJSON(msg string, err error) *Error {
	return &Error{Kind: KindJSON, Msg: msg, Err: err}
}

// OAuthServer wraps a 4xx token-endpoint verdict. Authoritative: the
// refresh token is dead and the credential must be retired.
func OAuthServer(code, description string) *Error {
	return &Error{Kind: KindOAuthServer, OAuthCode: code, Msg: description}
}

// OAuthToken wraps a transient token-endpoint failure (5xx, malformed
// response). status may be 0 when no response was received.
func OAuthToken(status int, msg string, err error) *Error {
	return &Error{Kind: KindOAuthToken, HTTPStatus: status, Msg: msg, Err: err}
}

func Coordinator(msg string, err error) *Error {
	return &Error{Kind: KindCoordinator, Msg: msg, Err: err}
}

func Database(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Msg: op, Err: err}
}

// Upstream wraps a non-2xx Code Assist response for classification.
func Upstream(status int, header http.Header, body []byte) *Error {
	return &Error{
		Kind:       KindUpstreamHTTP,
		HTTPStatus: status,
		Header:     header,
		Body:       body,
		Msg:        fmt.Sprintf("upstream returned %d: %s", status, truncate(body, 200)),
	}
}

func GeminiServer(status int, body []byte) *Error {
	return &Error{
		Kind:       KindGeminiServer,
		HTTPStatus: status,
		Body:       body,
		Msg:        fmt.Sprintf("upstream server error %d", status),
	}
}

// KindOf extracts the Kind from anywhere in the wrap chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether an operation may be attempted again:
// transport failures and 5xx responses. OAuth server verdicts and upstream
// 4xx are final.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return true
	case KindOAuthToken:
		return e.HTTPStatus == 0 || e.HTTPStatus >= 500
	case KindUpstreamHTTP, KindGeminiServer:
		return e.HTTPStatus >= 500
	default:
		return false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
