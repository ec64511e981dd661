package reporter

import (
	"context"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"golang.org/x/sync/errgroup"
)

// Backend delivers one event to the alerting service.
type Backend interface {
	Send(ctx context.Context, ev pagerduty.V2Event) error
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, ev pagerduty.V2Event) error

// Send implements Backend.
func (f BackendFunc) Send(ctx context.Context, ev pagerduty.V2Event) error {
	return f(ctx, ev)
}

// Dialer builds the backend client bound to a routing key. It is called
// once per Finish and may reject a malformed key.
type Dialer func(routingKey string) (Backend, error)

type tee []Backend

// Tee returns a Backend that sends every event to all of the given
// backends concurrently. It waits for all of them and returns the first
// error.
func Tee(backends ...Backend) Backend {
	for _, b := range backends {
		if b == nil {
			panic(xerrors.New("reporter: nil backend passed to Tee"))
		}
	}
	if len(backends) == 1 {
		return backends[0]
	}
	return tee(backends)
}

func (t tee) Send(ctx context.Context, ev pagerduty.V2Event) error {
	var g errgroup.Group
	for _, b := range t {
		g.Go(func() error { return b.Send(ctx, ev) })
	}
	return g.Wait()
}

// BestEffort wraps a secondary backend, such as a chat mirror, so that its
// failures are logged at warn level and never fail the dispatch.
func BestEffort(b Backend, L log.Logger) Backend {
	if b == nil {
		panic(xerrors.New("reporter: nil backend passed to BestEffort"))
	}
	if L == nil {
		L = log.Nop()
	}
	return BackendFunc(func(ctx context.Context, ev pagerduty.V2Event) error {
		if err := b.Send(ctx, ev); err != nil {
			L.Warn(ctx, "mirror delivery failed", "action", ev.Action, "dedup_key", ev.DedupKey, "err", err)
		}
		return nil
	})
}
