// Package events sends trigger and resolve events to the PagerDuty
// Events API v2.
package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PagerDuty/go-pagerduty"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultEndpoint is the public Events API v2 host.
	DefaultEndpoint = "https://events.pagerduty.com"

	// DefaultTimeout bounds a single event POST.
	DefaultTimeout = 10 * time.Second

	routingKeyLen = 32
)

// ErrMalformedRoutingKey is returned by Dial for keys PagerDuty would reject.
var ErrMalformedRoutingKey = errors.New("events: malformed routing key")

type options struct {
	endpoint string
	timeout  time.Duration
}

// Option configures Dial.
type Option func(*options)

// WithEndpoint overrides the Events API host, e.g. for a proxy or tests.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Client posts events on behalf of a single routing key. It is safe for
// concurrent use.
type Client struct {
	routingKey string
	pd         *pagerduty.Client
}

// Dial validates the routing key and builds a client. No request is made.
func Dial(routingKey string, opts ...Option) (*Client, error) {
	if err := ValidateRoutingKey(routingKey); err != nil {
		return nil, err
	}

	o := options{endpoint: DefaultEndpoint, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	pd := pagerduty.NewClient("", pagerduty.WithV2EventsAPIEndpoint(o.endpoint))
	pd.HTTPClient = &http.Client{
		Timeout:   o.timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &Client{routingKey: routingKey, pd: pd}, nil
}

// Send posts one event, stamping it with the client's routing key.
func (c *Client) Send(ctx context.Context, ev pagerduty.V2Event) error {
	ev.RoutingKey = c.routingKey

	resp, err := c.pd.ManageEventWithContext(ctx, &ev)
	if err != nil {
		return fmt.Errorf("events: post event: %w", err)
	}
	if resp != nil && resp.Status != "" && resp.Status != "success" {
		return fmt.Errorf("events: rejected with status %q: %s", resp.Status, resp.Message)
	}
	return nil
}

// ValidateRoutingKey checks the shape of an integration routing key:
// 32 ASCII letters or digits.
func ValidateRoutingKey(key string) error {
	if len(key) != routingKeyLen {
		return fmt.Errorf("%w: length %d, want %d", ErrMalformedRoutingKey, len(key), routingKeyLen)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return fmt.Errorf("%w: invalid character at offset %d", ErrMalformedRoutingKey, i)
		}
	}
	return nil
}
