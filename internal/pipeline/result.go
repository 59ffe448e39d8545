package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
)

// Diagnostic is a single compiler message.
type Diagnostic struct {
	Text     string
	File     string
	Line     int
	Column   int
	LineText string
}

// String formats d as file:line:column: text.
func (d Diagnostic) String() string {
	if d.File == "" {
		return d.Text
	}
	if d.Line == 0 {
		return d.File + ": " + d.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Text)
}

// Result is the outcome of one pipeline run. It is never mutated after
// NewResult returns; accessors return copies.
type Result struct {
	target   config.TargetName
	errors   []Diagnostic
	warnings []Diagnostic
	outputs  []string
	duration time.Duration
}

// NewResult creates a Result. The slices are copied.
func NewResult(target config.TargetName, errs, warnings []Diagnostic, outputs []string, duration time.Duration) Result {
	return Result{
		target:   target,
		errors:   slices.Clone(errs),
		warnings: slices.Clone(warnings),
		outputs:  slices.Clone(outputs),
		duration: duration,
	}
}

// Target returns the target that produced r.
func (r Result) Target() config.TargetName { return r.target }

// HasErrors reports whether the run failed.
func (r Result) HasErrors() bool { return len(r.errors) > 0 }

// Errors returns the error diagnostics.
func (r Result) Errors() []Diagnostic { return slices.Clone(r.errors) }

// Warnings returns the warning diagnostics.
func (r Result) Warnings() []Diagnostic { return slices.Clone(r.warnings) }

// Outputs returns the files written by the run.
func (r Result) Outputs() []string { return slices.Clone(r.outputs) }

// Duration returns how long the run took.
func (r Result) Duration() time.Duration { return r.duration }

// Diagnostics returns all messages, errors first, one per line.
func (r Result) Diagnostics() string {
	var b strings.Builder
	for _, d := range r.errors {
		b.WriteString("error: ")
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	for _, d := range r.warnings {
		b.WriteString("warning: ")
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Err returns an E140 error describing a failed run, or nil.
func (r Result) Err() error {
	if !r.HasErrors() {
		return nil
	}
	e := errors.New("E140").WithDetail(r.Diagnostics())
	if first := r.errors[0]; first.File != "" && first.Line > 0 {
		e = e.WithLocation(first.File, first.Line, first.Column)
	}
	return e
}
