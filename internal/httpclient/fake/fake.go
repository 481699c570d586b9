// Package fake provides an in-memory httpclient.Port test double, used by
// every package whose tests need to script upstream provider responses
// without a real HTTP server.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
)

// Call records one invocation for assertions.
type Call struct {
	Method  string
	URL     string
	Body    interface{}
	Headers map[string]string
}

// Client is a scriptable httpclient.Port. Responses are consumed
// FIFO per URL; if no response is queued for a URL, the client returns
// Default's result when Default is set, and otherwise a 404 Response whose
// body names the URL, to make missing stubs obvious in test failures.
type Client struct {
	mu        sync.Mutex
	Calls     []Call
	responses map[string][]response
	Default   func(method, url string) (httpclient.Response, error)
}

type response struct {
	resp httpclient.Response
	err  error
}

// New builds an empty fake client.
func New() *Client {
	return &Client{responses: make(map[string][]response)}
}

// QueueResponse appends a response to be returned the next time url is
// requested (GET or POST, matched only on URL since the gateway never
// issues both to the same URL in a single flow).
func (c *Client) QueueResponse(url string, resp httpclient.Response, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[url] = append(c.responses[url], response{resp: resp, err: err})
}

// QueueJSON is a convenience wrapper building a Response with the given
// status code and body (marshaled via the caller, pre-decoded as body).
func (c *Client) QueueJSON(url string, status int, body map[string]interface{}, headers map[string][]string) {
	c.QueueResponse(url, httpclient.Response{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil)
}

func (c *Client) take(method, url string, body interface{}, headers map[string]string) (httpclient.Response, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, Call{Method: method, URL: url, Body: body, Headers: headers})
	queue := c.responses[url]
	var r response
	var ok bool
	if len(queue) > 0 {
		r = queue[0]
		c.responses[url] = queue[1:]
		ok = true
	}
	c.mu.Unlock()

	if ok {
		return r.resp, r.err
	}
	if c.Default != nil {
		return c.Default(method, url)
	}
	return httpclient.Response{StatusCode: 404, Body: map[string]interface{}{"error": "no stubbed response for " + url}}, nil
}

// Get implements httpclient.Port.
func (c *Client) Get(_ context.Context, url string, _ time.Duration, headers map[string]string, requireJSON bool) (httpclient.Response, error) {
	resp, err := c.take("GET", url, nil, headers)
	return enforceJSON(resp, err, url, requireJSON)
}

// Post implements httpclient.Port.
func (c *Client) Post(_ context.Context, url string, body interface{}, _ time.Duration, headers map[string]string, requireJSON bool) (httpclient.Response, error) {
	resp, err := c.take("POST", url, body, headers)
	return enforceJSON(resp, err, url, requireJSON)
}

// enforceJSON mirrors httpclient.Client's requireJSON check so tests that
// queue a non-JSON body (e.g. raw []byte) exercise the same BadGatewayError
// path a real upstream would trigger.
func enforceJSON(resp httpclient.Response, err error, url string, requireJSON bool) (httpclient.Response, error) {
	if err != nil || !requireJSON {
		return resp, err
	}
	switch resp.Body.(type) {
	case []byte, nil:
		return resp, &httpclient.BadGatewayError{URL: url, Err: errNotJSON}
	default:
		return resp, nil
	}
}

var errNotJSON = errors.New("fake: queued response body is not JSON")

// Close implements httpclient.Port.
func (c *Client) Close() {}
