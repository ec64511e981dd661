// Package issue models a single reportable PagerDuty condition and derives
// the stable dedup key that ties a later resolve to an earlier trigger.
package issue

import (
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/cespare/xxhash/v2"
)

const (
	// MaxSummaryLen is the PagerDuty limit on payload.summary, in bytes.
	MaxSummaryLen = 1024

	ellipsis = "..."

	// discriminator seeds every fingerprint so that other field-map shaped
	// types hashed the same way never share keys with issues.
	discriminator = "klaxon/issue.Issue"

	// terminator follows every hashed string, 0xff never appears in UTF-8.
	terminator = 0xff
)

// Event actions understood by the Events API v2.
const (
	ActionTrigger = "trigger"
	ActionResolve = "resolve"
)

// SeverityCritical is the severity attached to every triggered issue.
const SeverityCritical = "critical"

// Fields are the dedup fields of an issue. Only these feed the fingerprint.
type Fields map[string]string

// Issue is one reportable condition.
//
// Title, Source and Component are display fields and may change between a
// trigger and its resolve without breaking dedup continuity.
type Issue struct {
	Title       string `json:"title" yaml:"title"`
	Source      string `json:"source" yaml:"source"`
	Component   string `json:"component" yaml:"component"`
	DedupFields Fields `json:"dedup_fields,omitempty" yaml:"dedup_fields,omitempty"`
}

// Fingerprint returns a 64-bit digest of the dedup fields, walked in
// ascending key order. It is recomputed on every call.
func (i Issue) Fingerprint() uint64 {
	d := xxhash.New()
	writeString(d, discriminator)
	for _, k := range slices.Sorted(maps.Keys(i.DedupFields)) {
		writeString(d, k)
		writeString(d, i.DedupFields[k])
	}
	return d.Sum64()
}

// DedupKey is the decimal form of Fingerprint, as sent to PagerDuty.
func (i Issue) DedupKey() string {
	return strconv.FormatUint(i.Fingerprint(), 10)
}

// TriggerEvent converts the issue into a trigger event. The routing key is
// left empty for the backend to fill in.
func (i Issue) TriggerEvent() pagerduty.V2Event {
	var details any
	if i.DedupFields != nil {
		details = map[string]string(i.DedupFields)
	}
	return pagerduty.V2Event{
		Action:   ActionTrigger,
		DedupKey: i.DedupKey(),
		Payload: &pagerduty.V2Payload{
			Summary:   Summary(i.Title),
			Source:    i.Source,
			Severity:  SeverityCritical,
			Component: i.Component,
			Details:   details,
		},
	}
}

// ResolveEvent converts the issue into a resolve event, which carries the
// dedup key and nothing else.
func (i Issue) ResolveEvent() pagerduty.V2Event {
	return pagerduty.V2Event{
		Action:   ActionResolve,
		DedupKey: i.DedupKey(),
	}
}

// LogValue renders the full issue content for structured log lines.
func (i Issue) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 3+len(i.DedupFields))
	attrs = append(attrs,
		slog.String("title", i.Title),
		slog.String("source", i.Source),
		slog.String("component", i.Component),
	)
	fields := make([]any, 0, len(i.DedupFields))
	for _, k := range slices.Sorted(maps.Keys(i.DedupFields)) {
		fields = append(fields, slog.String(k, i.DedupFields[k]))
	}
	attrs = append(attrs, slog.Group("dedup_fields", fields...))
	return slog.GroupValue(attrs...)
}

// Summary applies the payload.summary limit to a title. Titles within
// MaxSummaryLen bytes pass through; longer ones are cut back to a rune
// boundary and end in "...".
func Summary(title string) string {
	if len(title) <= MaxSummaryLen {
		return title
	}
	cut := MaxSummaryLen - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut] + ellipsis
}

func writeString(d *xxhash.Digest, s string) {
	_, _ = d.WriteString(s)
	_, _ = d.Write([]byte{terminator})
}
