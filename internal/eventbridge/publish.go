package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Publisher posts events to a running bridge.
type Publisher struct {
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// NewPublisher targets the bridge at baseURL (for example Settings.URL()).
func NewPublisher(baseURL string, hc *http.Client) *Publisher {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Publisher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxElapsedTime(3*time.Second),
			)
		},
	}
}

// Publish sends the event, filling in the event ID and schema version when
// missing. Connection failures and 5xx answers are retried; a rejected event
// is not.
func (p *Publisher) Publish(ctx context.Context, event Event) (Event, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("eventbridge: publish: %w", err)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("eventbridge: encode event: %w", err)
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/events", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode == http.StatusAccepted:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("bridge answered %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("bridge rejected event: %s: %s", resp.Status, strings.TrimSpace(string(msg))))
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		return Event{}, fmt.Errorf("eventbridge: publish %s: %w", event.Type, err)
	}
	return event, nil
}
