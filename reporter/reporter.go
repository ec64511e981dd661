package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/klaxon/internal/events"
	"github.com/linnemanlabs/klaxon/issue"
)

const tracerName = "github.com/linnemanlabs/klaxon/reporter"

// ErrFinished is returned by any call made after Finish.
var ErrFinished = errors.New("reporter: already finished")

// Hooks receives reporter events, typically to feed metrics. Nil fields
// are skipped.
type Hooks struct {
	OnDispatch func(action string, duration time.Duration, err error)
	OnFinish   func(triggers, resolves int, dryRun bool, err error)
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithRoutingKey sets the PagerDuty routing key. Without it Finish is a
// dry run.
func WithRoutingKey(key string) Option {
	return func(r *Reporter) {
		r.routingKey = key
		r.hasKey = true
	}
}

// WithLogger sets the logger used for issue and progress lines.
func WithLogger(l log.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDialer replaces the default Events API v2 client constructor.
func WithDialer(d Dialer) Option {
	return func(r *Reporter) {
		if d != nil {
			r.dial = d
		}
	}
}

// WithHooks installs metrics callbacks.
func WithHooks(h Hooks) Option {
	return func(r *Reporter) { r.hooks = h }
}

// WithMaxInFlight caps the number of concurrent dispatches. Zero or less
// means no cap.
func WithMaxInFlight(n int) Option {
	return func(r *Reporter) { r.maxInFlight = n }
}

// WithTracerProvider sets the provider for dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reporter) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// Reporter accumulates issues to trigger and resolve. It is owned by one
// goroutine and is spent by Finish.
type Reporter struct {
	routingKey  string
	hasKey      bool
	logger      log.Logger
	dial        Dialer
	hooks       Hooks
	maxInFlight int
	tracer      trace.Tracer

	toTrigger []issue.Issue
	toResolve []issue.Issue
	finished  bool
}

// New creates a Reporter. It opens no connection and does not validate
// the routing key; both happen in Finish.
func New(opts ...Option) *Reporter {
	r := &Reporter{
		logger: log.Nop(),
		dial:   defaultDialer,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultDialer(routingKey string) (Backend, error) {
	return events.Dial(routingKey)
}

// Trigger queues an issue to be raised.
func (r *Reporter) Trigger(is issue.Issue) error {
	if r.finished {
		return ErrFinished
	}
	r.toTrigger = append(r.toTrigger, is)
	return nil
}

// Resolve queues an issue to be closed.
func (r *Reporter) Resolve(is issue.Issue) error {
	if r.finished {
		return ErrFinished
	}
	r.toResolve = append(r.toResolve, is)
	return nil
}

// Pending returns the number of queued triggers and resolves.
func (r *Reporter) Pending() (triggers, resolves int) {
	return len(r.toTrigger), len(r.toResolve)
}

// Finish flushes both queues and spends the reporter. Every event is
// dispatched concurrently and all of them are awaited; the first failure
// is returned. Without a routing key nothing is sent and Finish succeeds.
func (r *Reporter) Finish(ctx context.Context) error {
	if r.finished {
		return ErrFinished
	}
	r.finished = true

	toTrigger, toResolve := r.toTrigger, r.toResolve
	r.toTrigger, r.toResolve = nil, nil

	L := r.logger.With("batch_id", ulid.Make().String())

	if !r.hasKey {
		L.Warn(ctx, "\U0001f335 DRY RUN, nothing was sent to PagerDuty",
			"discarded_triggers", len(toTrigger),
			"discarded_resolves", len(toResolve),
		)
		r.onFinish(len(toTrigger), len(toResolve), true, nil)
		return nil
	}

	backend, err := r.dial(r.routingKey)
	if err != nil {
		err = fmt.Errorf("reporter: dial backend: %w", err)
		r.onFinish(len(toTrigger), len(toResolve), false, err)
		return err
	}

	var g errgroup.Group
	if r.maxInFlight > 0 {
		g.SetLimit(r.maxInFlight)
	}

	for _, is := range toTrigger {
		ev := is.TriggerEvent()
		L.Warn(ctx, "\U0001f6a8 triggering issue", "dedup_key", is.DedupKey(), "issue", is)
		g.Go(func() error { return r.dispatch(ctx, L, backend, ev) })
	}

	for _, is := range toResolve {
		ev := is.ResolveEvent()
		L.Warn(ctx, "\u2705 resolving issue", "dedup_key", is.DedupKey(), "issue", is)
		g.Go(func() error { return r.dispatch(ctx, L, backend, ev) })
	}

	L.Debug(ctx, "waiting for PagerDuty update tasks", "tasks", len(toTrigger)+len(toResolve))
	err = g.Wait()
	r.onFinish(len(toTrigger), len(toResolve), false, err)
	if err != nil {
		return err
	}
	L.Debug(ctx, "finished sending updates to PagerDuty")
	return nil
}

func (r *Reporter) dispatch(ctx context.Context, L log.Logger, b Backend, ev pagerduty.V2Event) error {
	ctx, span := r.tracer.Start(ctx, "reporter.dispatch", trace.WithAttributes(
		attribute.String("klaxon.action", ev.Action),
		attribute.String("klaxon.dedup_key", ev.DedupKey),
	))
	defer span.End()

	start := time.Now()
	err := b.Send(ctx, ev)
	if r.hooks.OnDispatch != nil {
		r.hooks.OnDispatch(ev.Action, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "dispatch failed", "action", ev.Action, "dedup_key", ev.DedupKey)
		return fmt.Errorf("reporter: %s %s: %w", ev.Action, ev.DedupKey, err)
	}
	return nil
}

func (r *Reporter) onFinish(triggers, resolves int, dryRun bool, err error) {
	if r.hooks.OnFinish != nil {
		r.hooks.OnFinish(triggers, resolves, dryRun, err)
	}
}
