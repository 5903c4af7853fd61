// Package httputil provides an HTTP client abstraction for testability.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the part of *http.Client the fetcher needs.
// Use StandardClient in production and MockHTTPClient in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, or http.DefaultClient when c is nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockResponse is a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// MockHTTPClient serves canned responses keyed by request URL and records
// every request.
type MockHTTPClient struct {
	mu        sync.Mutex
	responses map[string]*MockResponse
	requests  []*http.Request
}

// NewMockHTTPClient returns a client that answers 404 for unknown URLs.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{responses: make(map[string]*MockResponse)}
}

// AddResponse serves body with status for url.
func (m *MockHTTPClient) AddResponse(url string, status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = &MockResponse{StatusCode: status, Body: body, Headers: make(http.Header)}
	return m
}

// AddErrorResponse makes requests for url fail with err.
func (m *MockHTTPClient) AddErrorResponse(url string, err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = &MockResponse{Error: err}
	return m
}

// Do records req and returns the response registered for its URL.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	resp, ok := m.responses[req.URL.String()]
	if !ok {
		resp = &MockResponse{StatusCode: http.StatusNotFound, Body: "not found"}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	headers := resp.Headers
	if headers == nil {
		headers = make(http.Header)
	}
	return &http.Response{
		StatusCode:    resp.StatusCode,
		Status:        http.StatusText(resp.StatusCode),
		Body:          io.NopCloser(bytes.NewBufferString(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Header:        headers,
		Request:       req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// RequestedURLs lists the recorded request URLs in order.
func (m *MockHTTPClient) RequestedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.URL.String()
	}
	return out
}
