package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
)

// Category groups codes by the stage that produced them.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryPipeline Category = "pipeline"
	CategoryCompile  Category = "compile"
	CategoryRuntime  Category = "runtime"
	CategoryRequest  Category = "request"
	CategoryCLI      Category = "cli"
)

// Location is a position in a source file. Column is 1-based; zero means
// unknown.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l *Location) String() string {
	switch {
	case l == nil:
		return ""
	case l.Column > 0:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	default:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
}

// BootzError is the error type shared by every bootz package. Values are
// built from a registered code with New and decorated with the With
// methods:
//
//	errors.New("E130").WithDetail("Cannot remove dist").Wrap(err)
type BootzError struct {
	Code     string
	Category Category
	// Fatal errors end the invocation with a non-zero status. The rest are
	// reported and the session carries on.
	Fatal bool

	Message    string
	Detail     string
	Suggestion string

	Location *Location
	// Context holds the source lines around Location.Line, the first of
	// which is line ContextStart.
	Context      []string
	ContextStart int

	Wrapped error
}

func (e *BootzError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

func (e *BootzError) Unwrap() error { return e.Wrapped }

// Is matches on code, so New("E110") works as a sentinel with errors.Is.
func (e *BootzError) Is(target error) bool {
	t, ok := target.(*BootzError)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithLocation points the error at file:line:column and captures the
// surrounding source when the file is readable.
func (e *BootzError) WithLocation(file string, line, column int) *BootzError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = sourceWindow(file, line, 2)
	return e
}

func (e *BootzError) WithSuggestion(s string) *BootzError {
	e.Suggestion = s
	return e
}

func (e *BootzError) WithDetail(d string) *BootzError {
	e.Detail = d
	return e
}

func (e *BootzError) Wrap(err error) *BootzError {
	e.Wrapped = err
	return e
}

// sourceWindow returns up to radius lines either side of line, plus the
// number of the first line returned.
func sourceWindow(file string, line, radius int) ([]string, int) {
	data, err := os.ReadFile(file)
	if err != nil || line < 1 {
		return nil, 0
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if line > len(lines) {
		return nil, 0
	}
	from := max(line-1-radius, 0)
	to := min(line+radius, len(lines))
	return lines[from:to], from + 1
}

// New returns a fresh error for a registered code. Unknown codes produce
// an "Unknown error" value that still carries the code.
func New(code string) *BootzError {
	d, ok := Lookup(code)
	if !ok {
		return &BootzError{Code: code, Message: "Unknown error"}
	}
	return &BootzError{
		Code:     code,
		Category: d.Category,
		Fatal:    d.Fatal,
		Message:  d.Message,
		Detail:   d.Detail,
	}
}

// FromError returns err unchanged when its chain already holds a
// BootzError and wraps it under code otherwise.
func FromError(err error, code string) *BootzError {
	if err == nil {
		return nil
	}
	if be := as(err); be != nil {
		return be
	}
	return New(code).Wrap(err)
}

func as(err error) *BootzError {
	var be *BootzError
	if stderrors.As(err, &be) {
		return be
	}
	return nil
}

// Code returns the code of the first BootzError in err's chain.
func Code(err error) string {
	if be := as(err); be != nil {
		return be.Code
	}
	return ""
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	be := as(err)
	return be != nil && be.Category == CategoryConfig
}

// IsFatal reports whether err should end the invocation. Errors from
// outside this package count as fatal.
func IsFatal(err error) bool {
	if be := as(err); be != nil {
		return be.Fatal
	}
	return err != nil
}
