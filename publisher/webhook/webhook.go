// Package webhook provides a subscriber that POSTs committed events to an
// HTTP endpoint, one request per event.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

// HeaderPrefix is prepended to the event headers sent with each request.
const HeaderPrefix = "X-Huddle-"

// Subscriber delivers events as HTTP POST requests.
type Subscriber struct {
	url            string
	client         *http.Client
	defaultHeaders map[string]string
}

// Option configures a webhook Subscriber.
type Option func(*Subscriber)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		s.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		s.client.Timeout = d
	}
}

// WithDefaultHeaders sets default headers added to all requests.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(s *Subscriber) {
		for k, v := range headers {
			s.defaultHeaders[k] = v
		}
	}
}

// New creates a new webhook Subscriber posting to url.
func New(url string, opts ...Option) *Subscriber {
	s := &Subscriber{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name implements huddle.Subscriber.
func (s *Subscriber) Name() string {
	return "webhook"
}

// Notify posts the events in order and stops at the first failure, so the
// endpoint never sees a later version before an earlier one.
func (s *Subscriber) Notify(ctx context.Context, events []huddle.Event) error {
	if s.url == "" {
		return fmt.Errorf("webhook: URL not configured")
	}
	for _, e := range events {
		if err := s.post(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) post(ctx context.Context, e huddle.Event) error {
	body, err := publisher.Encode(e)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}
	for k, v := range s.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range publisher.Headers(e) {
		req.Header.Set(HeaderPrefix+k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed for %s: %w", s.url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: server error %d from %s", resp.StatusCode, s.url)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: client error %d from %s", resp.StatusCode, s.url)
	}
	return nil
}
