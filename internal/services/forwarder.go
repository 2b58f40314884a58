package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// UpstreamRequest describes one outbound call to a registered API.
type UpstreamRequest struct {
	Method        string
	BaseURL       string
	Path          string            // endpoint template
	Params        map[string]string // {name} -> extracted value
	Query         url.Values
	Headers       http.Header // inbound headers; restricted ones are stripped
	Body          []byte
	APIKey        string // injected as x-api-key when non-empty, replacing any caller-supplied key
	Authorization string // explicit upstream credential, set after the inbound Authorization header is stripped
	Timeout       time.Duration
}

// UpstreamResponse is the upstream's answer, body fully read. Any HTTP
// status here is a successful proxy operation; only transport failures
// surface as errors from Forward.
type UpstreamResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// requestHeadersStripped are never copied from the inbound request to the
// outbound one.
var requestHeadersStripped = map[string]bool{
	"Host":           true,
	"Connection":     true,
	"Authorization":  true,
	"Content-Length": true,
}

// Forwarder executes outbound calls against registered APIs' base URLs.
type Forwarder struct {
	client *http.Client
	logger zerolog.Logger
}

func NewForwarder(logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// ResolvePath substitutes every {param} in a template with its
// percent-encoded extracted value. Unknown params are left in place.
func ResolvePath(template string, params map[string]string) string {
	return templateParamRe.ReplaceAllStringFunc(template, func(seg string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
		if v, ok := params[name]; ok {
			return url.PathEscape(v)
		}
		return seg
	})
}

// Forward builds and executes the outbound request. The per-call timeout is
// the only caller-visible deadline on the proxy path.
func (f *Forwarder) Forward(ctx context.Context, ur *UpstreamRequest) (*UpstreamResponse, error) {
	target := strings.TrimSuffix(ur.BaseURL, "/") + ResolvePath(ur.Path, ur.Params)
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Kind: ErrInternal, Code: "request_configuration_error", Message: "Request Configuration Error", Err: err}
	}
	if len(ur.Query) > 0 {
		// Merge with any query string already embedded in the target URL;
		// supplied parameters win on key collisions.
		q := parsed.Query()
		for key, values := range ur.Query {
			q.Del(key)
			for _, v := range values {
				q.Add(key, v)
			}
		}
		parsed.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, ur.Timeout)
	defer cancel()

	var body io.Reader
	if len(ur.Body) > 0 {
		body = bytes.NewReader(ur.Body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(ur.Method), parsed.String(), body)
	if err != nil {
		return nil, &Error{Kind: ErrInternal, Code: "request_configuration_error", Message: "Request Configuration Error", Err: err}
	}

	for key, values := range ur.Headers {
		if requestHeadersStripped[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if ur.APIKey != "" {
		req.Header.Set("x-api-key", ur.APIKey)
	}
	if ur.Authorization != "" {
		req.Header.Set("Authorization", ur.Authorization)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		// No response at all: DNS, connect, TLS, or deadline.
		return nil, &Error{Kind: ErrGatewayTimeout, Code: "upstream_unreachable", Message: "Gateway Timeout", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrGatewayTimeout, Code: "upstream_unreachable", Message: "Gateway Timeout", Err: err}
	}

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
		Duration:   time.Since(start),
	}, nil
}

// StripHopByHopHeaders returns a copy of headers without content-length,
// connection and transfer-encoding. Those must never be copied between the
// upstream response, the cache, and the caller-facing response.
func StripHopByHopHeaders(headers http.Header) http.Header {
	out := make(http.Header, len(headers))
	for key, values := range headers {
		switch strings.ToLower(key) {
		case "content-length", "connection", "transfer-encoding":
			continue
		}
		for _, value := range values {
			out.Add(key, value)
		}
	}
	return out
}

// FlattenHeaders collapses a header map to single values, for cache storage
// and the public-test envelope.
func FlattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key := range headers {
		out[key] = headers.Get(key)
	}
	return out
}
