// Package gemini is the Code Assist data-plane client. It wraps client
// request bodies into the CLI envelope, forwards them with an assigned
// bearer token and hands non-2xx responses back untouched for the
// handler to classify.
package gemini

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pollux-go/internal/constants"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/monitoring"
	"pollux-go/internal/monitoring/tracing"
)

const userAgent = "pollux/1.0"

// Client talks to one Code Assist endpoint. It holds no credential;
// every call carries its own assignment.
type Client struct {
	cli       *http.Client
	endpoint  string
	multiplex bool
}

// New builds a Client over the given HTTP client. httpClient must have
// no global timeout; per-call deadlines come from the request context.
func New(httpClient *http.Client, endpoint string, multiplex bool) *Client {
	return &Client{cli: httpClient, endpoint: endpoint, multiplex: multiplex}
}

// BuildEnvelope wraps a client request body into the CLI shape the Code
// Assist API expects: model and project alongside the untouched request.
func BuildEnvelope(model, project string, body []byte) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "model", model); err != nil {
		return nil, apperrors.InvalidJSON("set envelope model", err)
	}
	if out, err = sjson.SetBytes(out, "project", project); err != nil {
		return nil, apperrors.InvalidJSON("set envelope project", err)
	}
	if out, err = sjson.SetRawBytes(out, "request", body); err != nil {
		return nil, apperrors.InvalidJSON("set envelope request", err)
	}
	return out, nil
}

// UnwrapResponse strips the {"response": {...}} envelope when present.
// Bodies without it pass through untouched.
func UnwrapResponse(body []byte) []byte {
	if inner := gjson.GetBytes(body, "response"); inner.Exists() {
		return []byte(inner.Raw)
	}
	return body
}

// Result is a buffered unary upstream response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Generate proxies a unary :generateContent call. The returned Result may
// carry any status; classification is the handler's job.
func (c *Client) Generate(ctx context.Context, token string, envelope []byte) (*Result, error) {
	return c.unary(ctx, "generateContent", token, envelope)
}

// CountTokens proxies a unary :countTokens call.
func (c *Client) CountTokens(ctx context.Context, token string, envelope []byte) (*Result, error) {
	return c.unary(ctx, "countTokens", token, envelope)
}

func (c *Client) unary(ctx context.Context, action, token string, envelope []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.UpstreamGenerateTimeout)
	defer cancel()

	resp, err := c.post(ctx, action, "", token, envelope)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport("read upstream response", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body = UnwrapResponse(body)
	}
	return &Result{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream opens a :streamGenerateContent?alt=sse call and returns the live
// response. The caller owns resp.Body and must close it; cancelling ctx
// tears the upstream connection down mid-stream.
func (c *Client) Stream(ctx context.Context, token string, envelope []byte) (*http.Response, error) {
	return c.post(ctx, "streamGenerateContent", "alt=sse", token, envelope)
}

// post sends one v1internal call with the retry policy: transport errors
// and 5xx retry with jittered backoff, everything else returns on the
// first response.
func (c *Client) post(ctx context.Context, action, query, token string, envelope []byte) (*http.Response, error) {
	url := c.endpoint + "/v1internal:" + action
	if query != "" {
		url += "?" + query
	}

	ctx, span := tracing.StartSpan(ctx, "upstream/gemini", "CodeAssist."+action,
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("http.url", url),
		))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < constants.UpstreamMaxAttempts; attempt++ {
		if attempt > 0 {
			monitoring.UpstreamRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				return nil, apperrors.Transport("upstream call cancelled", ctx.Err())
			case <-time.After(nextBackoff(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
		if err != nil {
			span.SetStatus(codes.Error, "build request")
			return nil, apperrors.Transport("build upstream request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", userAgent)
		if !c.multiplex {
			req.Header.Set("Connection", "close")
		}

		start := time.Now()
		resp, err := c.cli.Do(req)
		monitoring.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			lastErr = apperrors.Transport("call upstream", err)
			monitoring.UpstreamRequestsTotal.WithLabelValues(monitoring.StatusClass(0)).Inc()
			span.RecordError(err)
			continue
		}

		monitoring.UpstreamRequestsTotal.WithLabelValues(monitoring.StatusClass(resp.StatusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		// 5xx retries; every other status, 429 and auth failures
		// included, goes back for classification.
		if resp.StatusCode >= 500 && attempt < constants.UpstreamMaxAttempts-1 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = apperrors.GeminiServer(resp.StatusCode, body)
			continue
		}
		return resp, nil
	}

	span.SetStatus(codes.Error, "exhausted retries")
	return nil, lastErr
}
