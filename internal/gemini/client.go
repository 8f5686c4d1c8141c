package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/govi/replywriter/internal/config"
	"github.com/govi/replywriter/internal/httpkit"
)

// maxResponseBytes caps how much of a response body is buffered.
const maxResponseBytes = 8 << 20

// modelToken is replaced with the configured model in URL templates.
const modelToken = "{model}"

// ErrResponseTooLarge is returned when a 2xx body exceeds the
// buffering cap. The body is never passed on truncated.
var ErrResponseTooLarge = fmt.Errorf("response exceeds %d bytes", maxResponseBytes)

// StatusError is returned when Gemini answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini API error %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client. APIKey and URLTemplate are required.
type Options struct {
	APIKey         string
	URLTemplate    string
	KeyPlaceholder string
	Model          string
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
}

// OptionsFromConfig maps the gemini config section onto Options.
func OptionsFromConfig(c config.GeminiConfig) Options {
	return Options{
		APIKey:         c.APIKey,
		URLTemplate:    c.URLTemplate,
		KeyPlaceholder: c.KeyPlaceholder,
		Model:          c.Model,
		Timeout:        time.Duration(c.TimeoutSec) * time.Second,
		RetryCount:     c.RetryCount,
		RetryDelay:     time.Duration(c.RetryDelayMs) * time.Millisecond,
	}
}

// Client issues generateContent calls. Its fields are read-only after
// construction, so one Client serves concurrent requests.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Gemini client. The endpoint is resolved once from
// the template; the key is never logged.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeyPlaceholder == "" {
		opts.KeyPlaceholder = config.DefaultKeyPlaceholder
	}
	logger = logger.With("provider", "gemini")

	return &Client{
		endpoint: ResolveEndpoint(opts.URLTemplate, opts.KeyPlaceholder, opts.APIKey, opts.Model),
		model:    opts.Model,
		logger:   logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(opts.Timeout),
			httpkit.WithRetry(opts.RetryCount, opts.RetryDelay),
			httpkit.WithLogger(logger),
		),
	}
}

// ResolveEndpoint substitutes the live key for placeholder in template,
// and model for any {model} token.
func ResolveEndpoint(template, placeholder, apiKey, model string) string {
	u := strings.ReplaceAll(template, placeholder, apiKey)
	return strings.ReplaceAll(u, modelToken, model)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Post sends req to generateContent and returns the raw response body.
// Network failures, non-2xx statuses, and body read errors are returned
// as errors; the body itself is not interpreted.
func (c *Client) Post(ctx context.Context, req GenerateRequest) ([]byte, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", redact(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errBody}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("read response: %w", ErrResponseTooLarge)
	}

	c.logger.Debug("response received",
		"model", c.model,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(start),
	)
	c.logger.Log(ctx, config.LevelTrace, "response payload", "json", string(body))

	return body, nil
}

// redact strips the query string (which carries the API key) from
// *url.Error values before they reach logs or callers.
func redact(err error) error {
	ue, ok := err.(*url.Error)
	if !ok {
		return err
	}
	if u, perr := url.Parse(ue.URL); perr == nil {
		u.RawQuery = ""
		return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
	}
	return &url.Error{Op: ue.Op, URL: "(redacted)", Err: ue.Err}
}
