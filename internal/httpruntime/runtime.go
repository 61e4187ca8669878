// Package httpruntime is the shared outbound HTTP path every provider
// adapter calls through: per-provider admission control, the single
// conditional retry, trace-header propagation, and transparent
// response decompression.
package httpruntime

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/olegische/xrouter-go/internal/engine"
)

const defaultConnectTimeout = 15 * time.Second

var propagator = propagation.TraceContext{}

// RetryPredicate decides whether a non-2xx response is worth exactly
// one retry.
type RetryPredicate func(provider string, status int, lowercasedBody string) bool

// DefaultRetryPredicate retries only zai 5xx responses whose body
// mentions "operation failed" (SPEC_FULL §4.3).
func DefaultRetryPredicate(provider string, status int, lowercasedBody string) bool {
	return provider == "zai" && status >= 500 && status < 600 &&
		strings.Contains(lowercasedBody, "operation failed")
}

// Runtime is one provider's outbound HTTP path: an admission
// semaphore plus a resty client configured with the connect timeout
// and (optionally) relaxed TLS verification.
type Runtime struct {
	provider string
	sem      *semaphore.Weighted
	client   *resty.Client
	retry    RetryPredicate
	logger   *slog.Logger
}

// Config configures one provider's Runtime.
type Config struct {
	Provider       string
	MaxInflight    int64 // default 100
	ConnectTimeout time.Duration
	InsecureTLS    bool // gigachat_insecure_tls
	Retry          RetryPredicate
	Logger         *slog.Logger
}

// New builds a Runtime for one provider.
func New(cfg Config) *Runtime {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 100
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPredicate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// ConnectTimeout bounds dialing only; no client-wide timeout is set,
	// so reading a long-lived stream body is never cut off.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	client := resty.New().SetTransport(transport)
	if cfg.InsecureTLS {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Runtime{
		provider: cfg.Provider,
		sem:      semaphore.NewWeighted(cfg.MaxInflight),
		client:   client,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
	}
}

// StreamResponse is a successful upstream response whose (decompressed)
// body the caller reads incrementally. The admission permit is held
// until Close is called, since a stream may be long-lived.
type StreamResponse struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser

	release     func()
	releaseOnce sync.Once
}

// Close releases the body and the provider's admission permit. Safe
// to call more than once.
func (s *StreamResponse) Close() error {
	err := s.Body.Close()
	s.releaseOnce.Do(s.release)
	return err
}

// Post submits a single JSON POST, applying admission control, trace
// propagation, and the single conditional retry. headers are applied
// to every attempt; Content-Type: application/json is always set. On
// success the permit is held by the returned StreamResponse until
// Close; on any error it is released before returning.
func (r *Runtime) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*StreamResponse, *engine.CoreError) {
	if !r.sem.TryAcquire(1) {
		return nil, engine.ProviderError("provider overloaded: max in-flight limit reached for %s", r.provider)
	}
	release := func() { r.sem.Release(1) }

	span := trace.SpanFromContext(ctx)

	resp, err := r.attempt(ctx, url, headers, body)
	if err != nil {
		release()
		span.SetStatus(codes.Error, err.Error())
		return nil, engine.ProviderError("%s", err.Error())
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))

	if isRetryableStatus(resp.StatusCode()) {
		preview, closeErr := drain(resp)
		_ = closeErr
		if r.retry(r.provider, resp.StatusCode(), strings.ToLower(preview)) {
			time.Sleep(300 * time.Millisecond)
			resp, err = r.attempt(ctx, url, headers, body)
			if err != nil {
				release()
				span.SetStatus(codes.Error, err.Error())
				return nil, engine.ProviderError("%s", err.Error())
			}
		} else {
			release()
			span.SetStatus(codes.Error, "non-2xx upstream response")
			return nil, engine.ProviderError("upstream %s returned status %d for %s: %s",
				r.provider, resp.StatusCode(), url, previewText(preview, 600))
		}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		preview, _ := drain(resp)
		release()
		span.SetStatus(codes.Error, "non-2xx upstream response")
		r.logger.Debug("upstream non-2xx response",
			"provider", r.provider, "status", resp.StatusCode(), "url", url,
			"body_preview", previewText(preview, 600))
		return nil, engine.ProviderError("upstream %s returned status %d for %s: %s",
			r.provider, resp.StatusCode(), url, previewText(preview, 600))
	}

	body2, err := decompress(resp.RawBody(), resp.Header().Get("Content-Encoding"))
	if err != nil {
		release()
		return nil, engine.ProviderError("decompress upstream response: %s", err.Error())
	}

	return &StreamResponse{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        readCloser{Reader: body2, closer: resp.RawBody()},
		release:     release,
	}, nil
}

func (r *Runtime) attempt(ctx context.Context, url string, headers map[string]string, body []byte) (*resty.Response, error) {
	req := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetDoNotParseResponse(true)

	for key, value := range headers {
		req.SetHeader(key, value)
	}
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	for key, value := range carrier {
		req.SetHeader(key, value)
	}

	return req.Post(url)
}

// drain fully reads and closes a non-2xx response for retry-predicate
// inspection, returning the decompressed body text.
func drain(resp *resty.Response) (string, error) {
	defer resp.RawBody().Close()
	reader, err := decompress(resp.RawBody(), resp.Header().Get("Content-Encoding"))
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(reader)
	return string(data), err
}

func decompress(body io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}

func isRetryableStatus(status int) bool {
	return status >= 500 && status < 600
}

func previewText(body string, max int) string {
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}

// IsJSON reports whether a response's Content-Type indicates a single
// JSON body rather than an SSE stream (SPEC_FULL §4.3 content-type
// branching).
func IsJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

// readCloser pairs a (possibly wrapping, e.g. gzip/brotli) Reader with
// the underlying raw body Closer.
type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error {
	return rc.closer.Close()
}
