// Klaxon batches PagerDuty trigger and resolve events and sends them in one
// concurrent flush.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"

	kc "github.com/linnemanlabs/klaxon/internal/cfg"
	"github.com/linnemanlabs/klaxon/internal/batchfile"
	"github.com/linnemanlabs/klaxon/internal/events"
	"github.com/linnemanlabs/klaxon/internal/notify/slack"
	"github.com/linnemanlabs/klaxon/issue"
	"github.com/linnemanlabs/klaxon/reporter"
)

const appName = "klaxon"
const component = "cli"

// legacyKeyEnv is honoured when no routing key was given by flag or KLAXON_ env.
const legacyKeyEnv = "PAGERDUTY_KEY"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] trigger|resolve [issue flags]\n       %s [flags] batch FILE|-\n\nflags:\n", appName, appName)
		fs.PrintDefaults()
	}

	// each package registers its own flags and options struct
	var (
		appCfg   kc.Config
		logCfg   log.Config
		traceCfg otelx.Config
	)
	appCfg.RegisterFlags(fs)
	logCfg.RegisterFlags(fs)
	traceCfg.RegisterFlags(fs)
	var showVersion bool
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(stderr,
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix KLAXON_,
	// these do not override cmdline flags
	cfg.FillFromEnv(fs, "KLAXON_", func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})
	if appCfg.RoutingKey == "" {
		appCfg.RoutingKey = os.Getenv(legacyKeyEnv)
	}

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"dry_run", appCfg.DryRun(),
		"events_endpoint", appCfg.EventsEndpoint,
		"max_in_flight", appCfg.MaxInFlight,
		"slack_mirror", appCfg.SlackWebhookURL != "",
		"enable_tracing", traceCfg.EnableTracing,
	)

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	reg := prometheus.NewRegistry()
	metrics := reporter.NewMetrics(reg)
	if appCfg.MetricsTextfile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(appCfg.MetricsTextfile, reg); err != nil {
				L.Error(context.Background(), err, "failed to write metrics textfile", "path", appCfg.MetricsTextfile)
			}
		}()
	}

	r := reporter.New(reporterOptions(&appCfg, L, metrics)...)

	if err := enqueue(r, fs.Arg(0), fs.Args()[1:], stderr); err != nil {
		return err
	}

	triggers, resolves := r.Pending()
	L.Info(ctx, "flushing batch", "triggers", triggers, "resolves", resolves)

	if err := r.Finish(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// reporterOptions maps the CLI config onto reporter options. The routing
// key option is only set when a key is configured, otherwise Finish runs dry.
func reporterOptions(c *kc.Config, L log.Logger, m *reporter.Metrics) []reporter.Option {
	opts := []reporter.Option{
		reporter.WithLogger(L),
		reporter.WithHooks(m.Hooks()),
		reporter.WithMaxInFlight(c.MaxInFlight),
		reporter.WithDialer(dialer(c, L)),
	}
	if !c.DryRun() {
		opts = append(opts, reporter.WithRoutingKey(c.RoutingKey))
	}
	return opts
}

func dialer(c *kc.Config, L log.Logger) reporter.Dialer {
	return func(routingKey string) (reporter.Backend, error) {
		pd, err := events.Dial(routingKey,
			events.WithEndpoint(c.EventsEndpoint),
			events.WithTimeout(c.HTTPTimeout),
		)
		if err != nil {
			return nil, err
		}
		if c.SlackWebhookURL == "" {
			return pd, nil
		}
		return reporter.Tee(pd, reporter.BestEffort(slack.New(c.SlackWebhookURL, L), L)), nil
	}
}

// enqueue queues the issues named by a command line.
func enqueue(r *reporter.Reporter, cmd string, args []string, stderr io.Writer) error {
	switch cmd {
	case "trigger", "resolve":
		is, err := parseIssue(cmd, args, stderr)
		if err != nil {
			return err
		}
		if cmd == "trigger" {
			return r.Trigger(is)
		}
		return r.Resolve(is)

	case "batch":
		if len(args) != 1 {
			return errors.New("batch: expected exactly one FILE argument (use - for stdin)")
		}
		b, err := batchfile.Load(args[0])
		if err != nil {
			return err
		}
		for _, is := range b.Trigger {
			if err := r.Trigger(is); err != nil {
				return err
			}
		}
		for _, is := range b.Resolve {
			if err := r.Resolve(is); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (want trigger, resolve or batch)", cmd)
	}
}

func parseIssue(cmd string, args []string, stderr io.Writer) (issue.Issue, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var is issue.Issue
	fields := fieldsFlag{}
	fs.StringVar(&is.Title, "title", "", "issue title (PagerDuty summary)")
	fs.StringVar(&is.Source, "source", "", "originating system or check")
	fs.StringVar(&is.Component, "component", "", "affected component")
	fs.Var(fields, "field", "dedup field as key=value, repeatable")

	if err := fs.Parse(args); err != nil {
		return issue.Issue{}, err
	}
	if fs.NArg() > 0 {
		return issue.Issue{}, fmt.Errorf("%s: unexpected arguments %q", cmd, fs.Args())
	}
	if cmd == "trigger" && (is.Title == "" || is.Source == "") {
		return issue.Issue{}, fmt.Errorf("%s: -title and -source are required", cmd)
	}
	is.DedupFields = issue.Fields(fields)
	return is, nil
}

// fieldsFlag collects repeated -field key=value pairs.
type fieldsFlag map[string]string

func (f fieldsFlag) String() string {
	pairs := make([]string, 0, len(f))
	for k, val := range f {
		pairs = append(pairs, k+"="+val)
	}
	return strings.Join(pairs, ",")
}

func (f fieldsFlag) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("invalid field %q (want key=value)", s)
	}
	if _, dup := f[k]; dup {
		return fmt.Errorf("duplicate field %q", k)
	}
	f[k] = val
	return nil
}
