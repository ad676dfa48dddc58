package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// MaxBodySize caps how much of a provider response is read.
const MaxBodySize = 4 << 20

// ErrResponseTooLarge is returned when a response body exceeds MaxBodySize.
var ErrResponseTooLarge = errors.New("response too large")

// Call is a single outbound request.
type Call struct {
	Method          string
	URL             string
	Header          map[string]string
	WithCredentials bool
	Body            []byte
}

// Response is the status and raw body of a completed call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport issues outbound calls. It is the only I/O boundary of the
// dispatcher.
type Transport interface {
	Do(ctx context.Context, call Call) (*Response, error)
}

// HTTPTransport sends calls over net/http. Calls with credentials go through
// a client that keeps a cookie jar, the others through a stateless one.
type HTTPTransport struct {
	client     *http.Client
	credClient *http.Client
}

// NewHTTPTransport creates a new HTTPTransport whose clients time out after
// timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	jar, _ := cookiejar.New(nil) // never fails with nil options

	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
		},
		credClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// Do executes the call and reads the full response body.
func (t *HTTPTransport) Do(ctx context.Context, call Call) (*Response, error) {
	method := call.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range call.Header {
		req.Header.Set(k, v)
	}
	if call.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := t.client
	if call.WithCredentials {
		client = t.credClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Explicitly ignore close error
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxBodySize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, MaxBodySize)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
