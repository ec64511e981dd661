// Package batchfile reads a batch of issues to trigger and resolve from a
// YAML (or JSON) document.
package batchfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/klaxon/issue"
)

// Batch is the decoded document.
type Batch struct {
	Trigger []issue.Issue `yaml:"trigger"`
	Resolve []issue.Issue `yaml:"resolve"`
}

// Load reads a batch from path, or from stdin when path is "-".
func Load(path string) (*Batch, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(path) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("batchfile: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes and validates a batch. Unknown fields are rejected so that
// a typo in dedup_fields cannot silently change a dedup key.
func Parse(r io.Reader) (*Batch, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var b Batch
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		return nil, fmt.Errorf("batchfile: decode: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks that every trigger carries the fields PagerDuty requires.
// Resolves only need their dedup fields, which may be empty.
func (b *Batch) Validate() error {
	var errs []error
	for i, is := range b.Trigger {
		if is.Title == "" {
			errs = append(errs, fmt.Errorf("trigger[%d]: title is required", i))
		}
		if is.Source == "" {
			errs = append(errs, fmt.Errorf("trigger[%d]: source is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("batchfile: %w", errors.Join(errs...))
	}
	return nil
}

// Len returns the total number of issues in the batch.
func (b *Batch) Len() int {
	return len(b.Trigger) + len(b.Resolve)
}
