package template

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultCulture is sent in the Culture header.
	DefaultCulture = "en-US"

	maxResponseBytes = 4 << 20
)

// Logger records client diagnostics. It matches logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// StatusError reports a non-2xx answer from the template service.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("template: failed to load template: %s", e.Status)
	}
	return fmt.Sprintf("template: failed to load template: %s: %s", e.Status, body)
}

// Client fetches templates from the remote template service.
type Client struct {
	baseURL    string
	companyID  string
	apiKey     string
	culture    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     Logger
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithAPIKey sets the token sent in the Authorization header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBackOff overrides the retry policy (primarily for tests).
func WithBackOff(factory func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// WithClientLogger overrides the default no-op logger.
func WithClientLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the company's templates under baseURL.
func NewClient(baseURL, companyID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		companyID:  strings.TrimSpace(companyID),
		culture:    DefaultCulture,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(200*time.Millisecond),
				backoff.WithMaxInterval(2*time.Second),
				backoff.WithMaxElapsedTime(15*time.Second),
			)
		},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load fetches and transforms a template. Server errors and transport
// failures are retried; client errors are returned immediately.
func (c *Client) Load(ctx context.Context, templateID string) (Template, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return Template{}, fmt.Errorf("template: template id is required")
	}
	if c.baseURL == "" || c.companyID == "" {
		return Template{}, fmt.Errorf("template: base url and company id are required")
	}
	endpoint := fmt.Sprintf("%s/%s/templates/%s", c.baseURL, url.PathEscape(c.companyID), url.PathEscape(templateID))
	attempt := 0
	t, err := backoff.RetryWithData(func() (Template, error) {
		attempt++
		if attempt > 1 {
			c.logger.Printf("template: retrying %s (attempt %d)", endpoint, attempt)
		}
		return c.fetch(ctx, endpoint)
	}, backoff.WithContext(c.newBackOff(), ctx))
	if err != nil {
		c.logger.Printf("template: load %s failed: %v", templateID, err)
		return Template{}, err
	}
	if t.ID == "" {
		t.ID = templateID
	}
	return t, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (Template, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Template{}, backoff.Permanent(fmt.Errorf("template: build request: %w", err))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Culture", c.culture)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Template{}, backoff.Permanent(ctx.Err())
		}
		return Template{}, fmt.Errorf("template: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Template{}, fmt.Errorf("template: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
		if resp.StatusCode >= 500 {
			return Template{}, statusErr
		}
		return Template{}, backoff.Permanent(statusErr)
	}
	t, err := Parse(body)
	if err != nil {
		return Template{}, backoff.Permanent(err)
	}
	return t, nil
}
