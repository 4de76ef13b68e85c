package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/galois26/procurement-ingester/internal/ratelimit"
)

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("transport: retries exhausted")

// StatusError is a non-retryable non-2xx response.
type StatusError struct {
	Key        string
	URL        string
	StatusCode int
	Body       string // first bytes, for logs
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: status %d", e.Key, e.URL, e.StatusCode)
}

// ExhaustedError is returned when every allowed attempt hit a retryable
// failure (network error, 429 or 503).
type ExhaustedError struct {
	Key        string
	URL        string
	Attempts   int
	LastStatus int   // 0 when the last failure was a network error
	Err        error // last network error, if any
}

func (e *ExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: gave up after %d attempts: %v", e.Key, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s: gave up after %d attempts: last status %d", e.Key, e.URL, e.Attempts, e.LastStatus)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Err }

type Request struct {
	Method string // default GET
	URL    string
	Query  url.Values
	Header http.Header
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Waiter is the rate limiter contract the transport needs.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Recorder receives one outcome per attempt: ok, retry, fatal or exhausted.
type Recorder interface {
	HTTPRequest(source, outcome string)
}

type Options struct {
	Timeout     time.Duration // absolute per-call timeout, default 30s
	UserAgent   string
	MaxAttempts int           // default 5
	Backoff     time.Duration // first retry delay, default 1s
	Clock       ratelimit.Clock
	Recorder    Recorder
	Logger      *slog.Logger
	HTTPClient  *http.Client // underlying client; NewHTTPClient(Timeout) when nil
}

// Transport performs rate-limited HTTP calls with bounded exponential
// backoff. It is safe for concurrent use.
type Transport struct {
	client      *resty.Client
	limiter     Waiter
	clock       ratelimit.Clock
	maxAttempts int
	backoff     time.Duration
	rec         Recorder
	log         *slog.Logger
}

func New(limiter Waiter, opts Options) *Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(opts.Timeout)
	}

	client := resty.NewWithClient(hc)
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(0)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Transport{
		client:      client,
		limiter:     limiter,
		clock:       opts.Clock,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		rec:         opts.Recorder,
		log:         opts.Logger,
	}
}

// Do issues req under the limiter key. Network errors and 429/503 are
// retried after base*2^n; any other non-2xx status fails at once.
func (t *Transport) Do(ctx context.Context, key string, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff << (attempt - 1)
			t.log.Debug("retrying request", "source", key, "url", req.URL, "attempt", attempt+1, "delay", delay)
			if err := t.clock.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx, key); err != nil {
				return nil, err
			}
		}

		r := t.client.R().SetContext(ctx)
		if len(req.Query) > 0 {
			r.SetQueryParamsFromValues(req.Query)
		}
		if len(req.Header) > 0 {
			r.SetHeaderMultiValues(req.Header)
		}
		res, err := r.Execute(method, req.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastStatus, lastErr = 0, err
			t.record(key, "retry")
			continue
		}

		code := res.StatusCode()
		switch {
		case code >= 200 && code < 300:
			t.record(key, "ok")
			return &Response{StatusCode: code, Header: res.Header(), Body: res.Body()}, nil
		case retryable(code):
			lastStatus, lastErr = code, nil
			t.record(key, "retry")
		default:
			t.record(key, "fatal")
			return nil, &StatusError{Key: key, URL: req.URL, StatusCode: code, Body: snippet(res.Body())}
		}
	}

	t.record(key, "exhausted")
	return nil, &ExhaustedError{Key: key, URL: req.URL, Attempts: t.maxAttempts, LastStatus: lastStatus, Err: lastErr}
}

// Get is Do with GET and query parameters.
func (t *Transport) Get(ctx context.Context, key, rawURL string, query url.Values, header http.Header) (*Response, error) {
	return t.Do(ctx, key, Request{Method: http.MethodGet, URL: rawURL, Query: query, Header: header})
}

func (t *Transport) record(key, outcome string) {
	if t.rec != nil {
		t.rec.HTTPRequest(key, outcome)
	}
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
