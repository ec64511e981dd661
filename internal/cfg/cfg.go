package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/linnemanlabs/klaxon/internal/events"
)

// Config adds klaxon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	RoutingKey      string
	EventsEndpoint  string
	HTTPTimeout     time.Duration
	MaxInFlight     int
	SlackWebhookURL string
	MetricsTextfile string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RoutingKey, "routing-key", "", "PagerDuty Events API v2 routing key (empty = dry run)")
	fs.StringVar(&c.EventsEndpoint, "events-endpoint", events.DefaultEndpoint, "PagerDuty Events API base URL")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", events.DefaultTimeout, "timeout for a single event request (1s..5m)")
	fs.IntVar(&c.MaxInFlight, "max-in-flight", 0, "maximum concurrent event requests (0 = unlimited)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL to mirror every event to")
	fs.StringVar(&c.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit (node_exporter textfile collector)")
}

// DryRun reports whether no routing key is configured.
func (c *Config) DryRun() bool {
	return c.RoutingKey == ""
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Routing key is optional, but when given it must be well formed
	if c.RoutingKey != "" {
		if err := events.ValidateRoutingKey(c.RoutingKey); err != nil {
			errs = append(errs, fmt.Errorf("invalid ROUTING_KEY: %w", err))
		}
	}

	if err := validateURL(c.EventsEndpoint); err != nil {
		errs = append(errs, fmt.Errorf("invalid EVENTS_ENDPOINT %q: %w", c.EventsEndpoint, err))
	}

	if c.HTTPTimeout < time.Second || c.HTTPTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid HTTP_TIMEOUT %s (must be 1s..5m)", c.HTTPTimeout))
	}

	if c.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_IN_FLIGHT %d (must be >= 0)", c.MaxInFlight))
	}

	if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
