// Package httpclient is the HTTP Client Port (spec.md §4.1): an outbound
// request abstraction that maps transport failures onto a small typed error
// taxonomy and returns upstream 4xx/5xx responses verbatim for the caller
// to classify. Grounded on the shape of the teacher's
// client/transcodingapi.Client (a thin interface over *http.Client), since
// no ecosystem HTTP client library appears anywhere in the retrieved pack
// (see DESIGN.md's stdlib justification).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Response is the normalized result of a Port call. Body holds the parsed
// JSON value when the content type is JSON and parsing succeeded;
// otherwise it holds the raw bytes.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       interface{}
	Raw        []byte
}

// JSON unmarshals Raw into v; used by callers that need a typed struct
// rather than the generic Body value.
func (r Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Raw, v)
}

// BodyMap returns Body as a map[string]interface{} if that's what it is.
func (r Response) BodyMap() (map[string]interface{}, bool) {
	m, ok := r.Body.(map[string]interface{})
	return m, ok
}

// Port is the outbound HTTP abstraction every upstream call in the gateway
// goes through. requireJSON mirrors
// original_source/adapters/aiohttp_client_adapter.py's _fetch_json, which
// unconditionally raises a 502 when the caller needs a JSON body and the
// response isn't one: callers that parse the response as StatusInfo or a
// process document pass true and get a *BadGatewayError instead of a
// silently wrong raw-bytes fallback; callers that only care about the
// status code (e.g. the results-verification probe) pass false.
type Port interface {
	Get(ctx context.Context, u string, timeout time.Duration, headers map[string]string, requireJSON bool) (Response, error)
	Post(ctx context.Context, u string, body interface{}, timeout time.Duration, headers map[string]string, requireJSON bool) (Response, error)
	// Close releases pooled resources; called once at shutdown.
	Close()
}

// Client is the default Port implementation, backed by a shared
// *http.Transport connection pool with an optional per-destination-host
// rate limiter (so one slow provider's fan-out can't starve the shared
// pool during Process Manager concurrent fetches).
type Client struct {
	hc *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64 // 0 disables limiting
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit bounds outbound requests per destination host to rps
// requests/second with a burst of int(rps)+1.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.rps = rps }
}

// New builds a Client sharing one transport across all calls.
func New(opts ...Option) *Client {
	c := &Client{
		hc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rps), int(c.rps)+1)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) await(ctx context.Context, u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil // malformed URL surfaces later as a transport error
	}
	if l := c.limiterFor(parsed.Host); l != nil {
		return l.Wait(ctx)
	}
	return nil
}

// Get issues a GET request. headers carries only values, never nil keys.
func (c *Client) Get(ctx context.Context, u string, timeout time.Duration, headers map[string]string, requireJSON bool) (Response, error) {
	return c.do(ctx, http.MethodGet, u, nil, timeout, headers, requireJSON)
}

// Post issues a POST request with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, u string, body interface{}, timeout time.Duration, headers map[string]string, requireJSON bool) (Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Response{}, err
		}
		reader = bytes.NewReader(encoded)
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return c.do(ctx, http.MethodPost, u, reader, timeout, h, requireJSON)
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, timeout time.Duration, headers map[string]string, requireJSON bool) (Response, error) {
	if err := c.await(ctx, u); err != nil {
		return Response{}, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return Response{}, &TransportError{URL: u, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &TimeoutError{URL: u, Err: err}
		}
		return Response{}, &TransportError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{URL: u, Err: err}
	}

	out := Response{StatusCode: resp.StatusCode, Headers: resp.Header, Raw: raw}
	parsed := false
	if isJSON(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			out.Body = v
			parsed = true
		}
	}
	if !parsed {
		out.Body = raw
		if requireJSON {
			return out, &BadGatewayError{URL: u, Err: fmt.Errorf("response content-type %q is not valid JSON", resp.Header.Get("Content-Type"))}
		}
	}
	return out, nil
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}

// Close releases the shared transport's idle connections.
func (c *Client) Close() {
	if t, ok := c.hc.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
