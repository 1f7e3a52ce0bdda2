package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"backoffkit/internal/classify"
	"backoffkit/internal/shared"
	"backoffkit/pkg/backoff"
)

// Client wraps http.Client with logging and retries driven by a backoff.Handler.
type Client struct {
	hc            *stdhttp.Client
	log           *slog.Logger
	headers       map[string]string
	urlRedactor   func(*url.URL) string
	retryMethods  map[string]struct{}
	retryNonIdem  bool
	maxReplayBody int64

	handler       *backoff.Handler
	strategy      backoff.Strategy
	maxBackoff    time.Duration
	maxRetryTime  time.Duration
	maxRetryAfter time.Duration
	recoverable   classify.Predicate
	peek          backoff.PeekFunc
	retryLogger   backoff.Logger
	sleep         backoff.SleepFunc
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries allows n retries (n+1 attempts) with intervals doubling from base.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		c.strategy = backoff.Geometric{Base: base, Multiplier: 2, MaxAttempts: uint32(n) + 1}
	}
}

// WithStrategy sets the retry strategy directly.
func WithStrategy(s backoff.Strategy) Option {
	return func(c *Client) {
		if s != nil {
			c.strategy = s
		}
	}
}

// WithRandomizer jitters retry intervals with r.
func WithRandomizer(r backoff.Randomizer) Option {
	return func(c *Client) { c.handler = backoff.NewHandler(r) }
}

// WithMaxBackoff caps every retry interval.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithMaxRetryDuration limits the sum of planned retry intervals.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.maxRetryTime = d }
}

// WithMaxRetryAfter stops retrying when the server asks to wait longer than d.
func WithMaxRetryAfter(d time.Duration) Option {
	return func(c *Client) { c.maxRetryAfter = d }
}

// WithRecoverable replaces the default recoverability check.
func WithRecoverable(p classify.Predicate) Option {
	return func(c *Client) {
		if p != nil {
			c.recoverable = p
		}
	}
}

// WithPeek adds a peek hook that runs after Retry-After handling.
func WithPeek(p backoff.PeekFunc) Option {
	return func(c *Client) { c.peek = p }
}

// WithRetryLogger adds a backoff.Logger (journal, metrics) next to the slog output.
func WithRetryLogger(l backoff.Logger) Option {
	return func(c *Client) { c.retryLogger = l }
}

// WithSleep replaces the sleep between attempts.
func WithSleep(f backoff.SleepFunc) Option {
	return func(c *Client) { c.sleep = f }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithoutHeaders removes default headers.
func WithoutHeaders(keys ...string) Option {
	return func(c *Client) {
		for _, k := range keys {
			delete(c.headers, k)
		}
	}
}

// WithURLRedactor sets URL redactor for logs and errors.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRetryMethods adds methods allowed for retries.
func WithRetryMethods(methods ...string) Option {
	return func(c *Client) {
		for _, m := range methods {
			c.retryMethods[m] = struct{}{}
		}
	}
}

// WithRetryNonIdempotent allows retries for non-idempotent methods like POST.
func WithRetryNonIdempotent(v bool) Option {
	return func(c *Client) { c.retryNonIdem = v }
}

// WithMaxReplayBodySize limits size of buffered body for retries (0 disables limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// New creates configured Client. Without WithRetries or WithStrategy every request is tried once.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log:           slog.Default(),
		maxReplayBody: 1 << 20,
		handler:       backoff.NewHandler(nil),
		strategy:      backoff.Constant{MaxAttempts: 1},
		recoverable:   classify.Any(classify.Network, classify.HTTP),
		sleep:         backoff.SleepContext,
		retryMethods: map[string]struct{}{
			stdhttp.MethodGet:     {},
			stdhttp.MethodHead:    {},
			stdhttp.MethodOptions: {},
			stdhttp.MethodTrace:   {},
			stdhttp.MethodPut:     {},
			stdhttp.MethodDelete:  {},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HTTPError is returned when the last attempt got a retryable status (408, 429, 5xx...).
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	// RetryAfter is the parsed Retry-After header; HasRetryAfter tells whether it was present.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// HTTPStatus implements classify.StatusError.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// RetryDelay implements classify.DelayHinter.
func (e *HTTPError) RetryDelay() (time.Duration, bool) { return e.RetryAfter, e.HasRetryAfter }

// Unwrap exposes the shared sentinel for the status so shared.KindOf works on HTTPError.
func (e *HTTPError) Unwrap() error { return shared.SentinelOf(classify.StatusKind(e.StatusCode)) }

// parseRetryAfter parses a Retry-After header value given in seconds or as an HTTP date.
func parseRetryAfter(h string) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	var body []byte
	var err error
	if c.maxReplayBody > 0 {
		body, err = io.ReadAll(io.LimitReader(req.Body, c.maxReplayBody+1))
		if err == nil && int64(len(body)) > c.maxReplayBody {
			err = ErrReplayBodyTooLarge
		}
	} else {
		body, err = io.ReadAll(req.Body)
	}
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

func (c *Client) retryable(req *stdhttp.Request) bool {
	if _, ok := c.retryMethods[req.Method]; ok {
		return true
	}
	if req.Method == stdhttp.MethodPost && req.Header.Get("Idempotency-Key") != "" {
		return true
	}
	return c.retryNonIdem
}

func (c *Client) policy(ctx context.Context, req *stdhttp.Request, log *slog.Logger) backoff.Policy {
	if !c.retryable(req) {
		return backoff.Policy{
			IsRecoverable: c.recoverable,
			Strategy:      backoff.Constant{MaxAttempts: 1},
			Logger:        c.loggers(log),
		}
	}
	s := c.strategy
	if c.maxBackoff > 0 {
		s = backoff.Capped{Strategy: s, Ceiling: c.maxBackoff}
	}
	if c.maxRetryTime > 0 {
		s = backoff.Budget{Strategy: s, Total: c.maxRetryTime}
	}
	peek := classify.RetryAfterPeek(c.maxRetryAfter)
	if c.maxBackoff > 0 && c.maxRetryAfter == 0 {
		peek = capPeek(peek, c.maxBackoff)
	}
	return backoff.Policy{
		IsRecoverable: c.recoverable,
		PeekRetry:     classify.ChainPeek(peek, deadlinePeek(ctx), c.peek),
		Sleep:         c.sleep,
		Strategy:      s,
		Logger:        c.loggers(log),
	}
}

func (c *Client) loggers(log *slog.Logger) backoff.Logger {
	l := backoff.Logger(backoff.NewSlogLogger(log, "http"))
	if c.retryLogger != nil {
		l = backoff.MultiLogger{l, c.retryLogger}
	}
	return l
}

// capPeek clamps server hints to ceiling.
func capPeek(p backoff.PeekFunc, ceiling time.Duration) backoff.PeekFunc {
	return func(err error, planned time.Duration, attempt uint32) (time.Duration, bool) {
		d, ok := p(err, planned, attempt)
		if d > ceiling {
			d = ceiling
		}
		return d, ok
	}
}

// deadlinePeek stops retrying when the wait would outlast ctx.
func deadlinePeek(ctx context.Context) backoff.PeekFunc {
	return func(_ error, planned time.Duration, _ uint32) (time.Duration, bool) {
		if deadline, ok := ctx.Deadline(); ok && planned > time.Until(deadline) {
			return planned, false
		}
		return planned, true
	}
}

// Do sends the request, retrying transport failures and retryable statuses under the
// configured strategy. Non-retryable statuses are returned as responses; a retryable status
// on the last attempt is returned as *HTTPError.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	u := c.redactURL(req.URL)
	log := c.log.With(slog.String("method", req.Method), slog.String("url", u))

	var attempt int
	start := time.Now()
	resp, err := backoff.Handle(ctx, c.handler, func(ctx context.Context) (*stdhttp.Response, error) {
		attempt++
		return c.roundTrip(ctx, req, u)
	}, c.policy(ctx, req, log))
	if err != nil {
		return nil, err
	}
	log.Info("http request",
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
		slog.Int("attempts", attempt),
	)
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req *stdhttp.Request, u string) (*stdhttp.Response, error) {
	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = rc
	}

	resp, err := c.hc.Do(r)
	if err != nil {
		return nil, err
	}
	if !classify.HTTPStatus(resp.StatusCode) {
		return resp, nil
	}

	herr := &HTTPError{Method: r.Method, URL: u, StatusCode: resp.StatusCode}
	herr.RetryAfter, herr.HasRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	drainAndClose(resp.Body)
	if resp.StatusCode == stdhttp.StatusMisdirectedRequest {
		if tr, ok := c.hc.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil, herr
}
