package backend

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
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/resilience"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client talks to the REST backend that owns persistence. Every response is
// decoded into a boundary DTO and validated before it is converted into
// domain values.
type Client struct {
	baseURL  *url.URL
	http     resilience.HTTPClient
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// New constructs a Client for baseURL. The resilience client provides
// retries and the circuit breaker; its Client defaults to NewHTTPClient.
func New(baseURL string, hc resilience.HTTPClient, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, errors.New("backend: base url must include host")
	}
	if hc.Client == nil {
		hc.Client = NewHTTPClient(hc.Timeout)
	}
	return &Client{
		baseURL:  u,
		http:     hc,
		logger:   obs.Component(logger, "backend"),
		validate: newValidator(),
	}, nil
}

// envelope is the success shape of the backend: {"data": ...}. Bare bodies
// are accepted as well.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorEnvelope covers {"error": {"code", "message"}} and a flat {"message"}.
type errorEnvelope struct {
	Error   *common.ErrorBody `json:"error"`
	Message string            `json:"message"`
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call sends one request and decodes the data part of the response into out.
// A nil out discards the body.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, headers http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("backend: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	logger := obs.LoggerFor(ctx, c.logger).With().Str("method", method).Str("path", path).Logger()
	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("backend_unreachable")
		return unavailable(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return unavailable(fmt.Errorf("read response: %w", err))
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend_request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backendError(method, path, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	data := raw
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		data = env.Data
	}
	if err := json.Unmarshal(data, out); err != nil {
		return common.NewAppError(common.CodeBackend, "backend returned an unreadable response", http.StatusBadGateway,
			fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func unavailable(err error) error {
	msg := "backend is unreachable"
	if errors.Is(err, resilience.ErrOpenCircuit) {
		msg = "backend is temporarily unavailable"
	}
	return common.NewAppError(common.CodeBackendUnavailable, msg, http.StatusServiceUnavailable, err)
}

// backendError keeps the backend's own message for the operator.
func backendError(method, path string, status int, raw []byte) error {
	msg := ""
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		switch {
		case env.Error != nil && env.Error.Message != "":
			msg = env.Error.Message
		case env.Message != "":
			msg = env.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return common.NewAppError(common.CodeBackend, msg, status, fmt.Errorf("%s %s: status %d", method, path, status))
}
