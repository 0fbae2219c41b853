package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Request is one outbound webhook POST.
type Request struct {
	URL     string
	Body    []byte
	Headers http.Header
	Timeout time.Duration
}

// Response is what the receiver answered.
type Response struct {
	StatusCode int
	Body       string
	Latency    time.Duration
}

// Sender performs the outbound request. Transport failures are returned as
// errors; any HTTP response, whatever its status, is returned as a Response.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// DialControl vets the address of every outbound connection.
type DialControl func(network, address string, c syscall.RawConn) error

// HTTPSender delivers over net/http.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender returns a sender whose connections are vetted by control, so
// a hostname that re-resolves to a private address after validation is still
// refused. Redirects are not followed.
func NewHTTPSender(control DialControl) *HTTPSender {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   control,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPSender{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Send posts req.Body to req.URL within req.Timeout.
func (s *HTTPSender) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq) //nolint:gosec // G704: destination vetted by the endpoint guard and dial control.
	latency := time.Since(start)
	if err != nil {
		if isTimeout(ctx, err) {
			return &Response{Latency: latency}, &TimeoutError{Timeout: req.Timeout, Err: err}
		}
		return &Response{Latency: latency}, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// Drain a bounded remainder so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*maxResponseBody))

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Latency:    latency,
	}
	if readErr != nil && isTimeout(ctx, readErr) {
		return out, &TimeoutError{Timeout: req.Timeout, Err: readErr}
	}
	return out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// NoopSender logs requests instead of sending them and reports 200. It is the
// dry-run mode for environments that must not reach receivers.
type NoopSender struct {
	logger *slog.Logger
}

// NewNoopSender returns a NoopSender.
func NewNoopSender(logger *slog.Logger) *NoopSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(ctx context.Context, req *Request) (*Response, error) {
	s.logger.InfoContext(ctx, "dry-run webhook delivery",
		"url", req.URL,
		"delivery_id", req.Headers.Get(HeaderID),
		"event_type", req.Headers.Get(HeaderEventType),
		"bytes", len(req.Body),
	)
	return &Response{StatusCode: http.StatusOK}, nil
}
