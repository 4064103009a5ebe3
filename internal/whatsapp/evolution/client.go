package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultUserAgent = "loyalty-whatsapp/0.1"

var tracer = otel.Tracer("loyalty.internal.whatsapp.evolution")

// ErrInstanceNotFound is returned when the gateway does not know the instance.
var ErrInstanceNotFound = errors.New("evolution: instance not found")

// Config controls how the gateway client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Evolution gateway REST endpoints used by the connection
// manager and the dispatcher.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evolution: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("evolution: API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// ConnectionState reports the gateway's view of the instance connection.
func (c *Client) ConnectionState(ctx context.Context, instance string) (*ConnectionStateResponse, error) {
	if err := requireInstance(instance); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "evolution.connection_state", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.instance", instance))

	data, err := c.invoke(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrInstanceNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return decode[ConnectionStateResponse](data)
}

// Connect asks the gateway to (re)connect the instance, returning the pairing QR.
func (c *Client) Connect(ctx context.Context, instance string) (*ConnectResponse, error) {
	if err := requireInstance(instance); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "evolution.connect", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.instance", instance))

	data, err := c.invoke(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(instance), nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return decode[ConnectResponse](data)
}

// SetWebhook registers the inbound event callback for the instance.
func (c *Client) SetWebhook(ctx context.Context, instance string, cfg WebhookConfig) error {
	if err := requireInstance(instance); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(webhookEnvelope{Webhook: cfg.withDefaults()})
	if err != nil {
		return fmt.Errorf("evolution: marshal webhook payload: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPut, "/webhook/set/"+url.PathEscape(instance), body)
	return err
}

// SendText delivers a plain text message to a normalized WhatsApp address.
func (c *Client) SendText(ctx context.Context, instance string, req SendTextRequest) (*SendTextResponse, error) {
	if err := requireInstance(instance); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "evolution.send_text", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.instance", instance),
		attribute.String("whatsapp.to", req.Number),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("evolution: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return decode[SendTextResponse](data)
}

// FetchProfile reads the WhatsApp profile bound to the instance.
func (c *Client) FetchProfile(ctx context.Context, instance string) (*Profile, error) {
	if err := requireInstance(instance); err != nil {
		return nil, err
	}
	data, err := c.invoke(ctx, http.MethodGet, "/chat/whatsappProfile/"+url.PathEscape(instance), nil)
	if err != nil {
		return nil, err
	}
	return decode[Profile](data)
}

// FetchInstances lists every instance registered with the gateway.
func (c *Client) FetchInstances(ctx context.Context) ([]InstanceInfo, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/instance/fetchInstances", nil)
	if err != nil {
		return nil, err
	}
	var out []InstanceInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("evolution: decode response: %w", err)
	}
	return out, nil
}

// FindInstance returns the named instance from FetchInstances, or ErrInstanceNotFound.
func (c *Client) FindInstance(ctx context.Context, instance string) (*InstanceInfo, error) {
	instances, err := c.FetchInstances(ctx)
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if instances[i].Name() == instance {
			return &instances[i], nil
		}
	}
	return nil, ErrInstanceNotFound
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	retries := c.maxRetries
	if !idempotent(method) {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("evolution: build request: %w", err)
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == retries {
				return nil, fmt.Errorf("evolution: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("evolution: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < retries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("evolution: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("evolution retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

// Only GET and PUT are replayed; sendText POSTs go out once.
func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodPut
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

func requireInstance(instance string) error {
	if strings.TrimSpace(instance) == "" {
		return errors.New("evolution: instance name required")
	}
	return nil
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"status"`
	ErrorText  string `json:"error,omitempty"`
	Detail     string `json:"-"`
}

func (e *APIError) Error() string {
	switch {
	case e.ErrorText != "" && e.Detail != "":
		return fmt.Sprintf("evolution: %s: %s (status=%d)", e.ErrorText, e.Detail, e.StatusCode)
	case e.ErrorText != "":
		return fmt.Sprintf("evolution: %s (status=%d)", e.ErrorText, e.StatusCode)
	case e.Detail != "":
		return fmt.Sprintf("evolution: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("evolution: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed struct {
		Error    string `json:"error"`
		Message  any    `json:"message"`
		Response struct {
			Message any `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Detail: strings.TrimSpace(string(body))}
	}
	detail := flattenMessage(parsed.Response.Message)
	if detail == "" {
		detail = flattenMessage(parsed.Message)
	}
	return &APIError{StatusCode: status, ErrorText: parsed.Error, Detail: detail}
}

// The gateway reports messages either as a string or as a list of strings.
func flattenMessage(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := p.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func decode[T any](body []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("evolution: decode response: %w", err)
	}
	return &out, nil
}
