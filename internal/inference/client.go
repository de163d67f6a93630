// Package inference talks to the remote emotion-inference service over HTTP.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/moodsync/platform/internal/audio"
	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/metrics"
	"github.com/moodsync/platform/internal/resilience"
	"github.com/moodsync/platform/internal/trace"
)

// Health is the service's /health response.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Client submits voice samples for emotion analysis.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	maxBody int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker sets the circuit breaker configuration for Submit.
func WithBreaker(cfg resilience.Config) Option {
	return func(c *Client) { c.breaker = resilience.NewBreaker[[]byte](BreakerName, cfg, breakerSuccess) }
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker[[]byte](BreakerName, resilience.FastConfig(), breakerSuccess)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit posts the payload to /analyze and returns the raw response body.
// The deadline bounds the whole exchange independently of the transport.
// Failures are CodeTimeout, CodeServerError (metadata "status") or
// CodeUnreachable; cancellation of ctx is returned as ctx.Err().
func (c *Client) Submit(ctx context.Context, p audio.Payload, deadline time.Duration) ([]byte, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	ctx, span := trace.StartSpan(ctx, "inference_submit")
	defer span.End()
	span.SetAttr("bytes", len(p.Data))

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.submit(ctx, p, deadline)
	})
	if err != nil {
		if resilience.IsRejection(err) {
			err = apperrors.Wrap(err, apperrors.CodeUnreachable, "inference circuit open")
		}
		span.SetAttr("error", err.Error())
		metrics.InferenceRequests.WithLabelValues("analyze", resultLabel(err)).Inc()
		return nil, err
	}
	metrics.InferenceRequests.WithLabelValues("analyze", "ok").Inc()
	return body, nil
}

func (c *Client) submit(ctx context.Context, p audio.Payload, deadline time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, contentType, err := multipartBody(p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "build multipart body")
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/analyze", body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnreachable, "build analyze request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	trace.Inject(req)

	return c.do(ctx, reqCtx, req)
}

// Health queries /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.getJSON(ctx, "/health", &h)
	return h, err
}

// Emotions queries /emotions for the labels the model can produce.
func (c *Client) Emotions(ctx context.Context) ([]string, error) {
	var out struct {
		Status   string   `json:"status"`
		Emotions []string `json:"emotions"`
	}
	if err := c.getJSON(ctx, "/emotions", &out); err != nil {
		return nil, err
	}
	return out.Emotions, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	reqCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeUnreachable, "build %s request", path)
	}
	req.Header.Set("Accept", "application/json")
	trace.Inject(req)

	endpoint := strings.TrimPrefix(path, "/")
	data, err := c.do(ctx, reqCtx, req)
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(endpoint, resultLabel(err)).Inc()
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		metrics.InferenceRequests.WithLabelValues(endpoint, "invalid_json").Inc()
		return apperrors.Wrapf(err, apperrors.CodeInvalidJSON, "decode %s response", path)
	}
	metrics.InferenceRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// do executes req and reads a capped body. parent is the caller's context,
// reqCtx the deadline-bound child the request runs under.
func (c *Client) do(parent, reqCtx context.Context, req *http.Request) ([]byte, error) {
	log := trace.Logger(parent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(parent, reqCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, classify(parent, reqCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("inference service error", "url", req.URL.String(), "status", resp.StatusCode, "body", preview(data))
		return nil, apperrors.Newf(apperrors.CodeServerError, "%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode).
			WithMetadata("status", strconv.Itoa(resp.StatusCode))
	}
	return data, nil
}

func classify(parent, reqCtx context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "inference deadline exceeded")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "inference transport timeout")
	}
	return apperrors.Wrap(err, apperrors.CodeUnreachable, "inference service unreachable")
}

func multipartBody(p audio.Payload) (io.Reader, string, error) {
	filename := p.Filename
	if filename == "" {
		filename = audio.Filename
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = audio.ContentType
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, filename))
	h.Set("Content-Type", contentType)
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(p.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}

// breakerSuccess keeps caller cancellations and 4xx responses from tripping
// the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	appErr, ok := apperrors.As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case apperrors.CodeServerError:
		status, _ := strconv.Atoi(appErr.Metadata["status"])
		return status < 500
	case apperrors.CodeTimeout, apperrors.CodeUnreachable:
		return false
	default:
		return true
	}
}

func resultLabel(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return strings.ToLower(string(apperrors.CodeOf(err)))
}

func preview(b []byte) string {
	if len(b) > BodyPreviewLimit {
		return string(b[:BodyPreviewLimit]) + "..."
	}
	return string(b)
}
