package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/tracing"
)

// Result names appended by the HTTP requester. The status is kept as text
// so that it is reported as the last value rather than averaged.
const (
	StatusResult       = "Status"
	ResponseSizeResult = "ResponseSize"
)

// maxErrorBody bounds how much of a failed response is kept in HTTPError.
const maxErrorBody = 512

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether err is worth another attempt: transport
// errors, 429 and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
}

func NewRequestBuilder(method, target string, headers map[string]string) (*RequestBuilder, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	hdrs := http.Header{}
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		hdrs.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: hdrs,
	}, nil
}

func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, b.method, b.target, nil)
	if err != nil {
		return nil, err
	}
	req.Header = b.headers.Clone()
	return req, nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Requester sends one request per iteration.
type Requester struct {
	client    *http.Client
	builder   *RequestBuilder
	propagate bool
}

// NewRequester returns a requester; propagate injects the W3C trace
// context of the iteration into every request.
func NewRequester(client *http.Client, builder *RequestBuilder, propagate bool) *Requester {
	if client == nil {
		client = NewClient(0)
	}
	return &Requester{client: client, builder: builder, propagate: propagate}
}

// Do sends the request, reads the whole response and records its status
// and size on u. Responses of 400 and above are returned as *HTTPError.
func (r *Requester) Do(ctx context.Context, u *measurement.Unit) error {
	req, err := r.builder.Build(ctx)
	if err != nil {
		return err
	}
	if r.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var head strings.Builder
	n, err := io.Copy(&head, io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var rest int64
		rest, err = io.Copy(io.Discard, resp.Body)
		n += rest
	}
	if u != nil {
		u.AppendResult(StatusResult, strconv.Itoa(resp.StatusCode))
		u.AppendResult(ResponseSizeResult, measurement.Quantity{Value: float64(n), Unit: "B"})
	}
	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(head.String())}
	}
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}
