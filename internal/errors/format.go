package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
)

// ansi is an SGR escape sequence.
type ansi string

const (
	reset  ansi = "\033[0m"
	bold   ansi = "\033[1m"
	red    ansi = "\033[31m"
	yellow ansi = "\033[33m"
	cyan   ansi = "\033[36m"
	gray   ansi = "\033[90m"
)

var colorEnabled = true

// DisableColors turns off ANSI sequences in formatted errors.
func DisableColors() { colorEnabled = false }

// EnableColors turns ANSI sequences back on.
func EnableColors() { colorEnabled = true }

func paint(text string, styles ...ansi) string {
	if !colorEnabled || len(styles) == 0 {
		return text
	}
	var b strings.Builder
	for _, s := range styles {
		b.WriteString(string(s))
	}
	b.WriteString(text)
	b.WriteString(string(reset))
	return b.String()
}

// severity is how an error is labelled in terminal output. Recoverable
// compile failures and a missing config file read as warnings.
func (e *BootzError) severity() (string, ansi) {
	if !e.Fatal && (e.Category == CategoryCompile || e.Code == "E121") {
		return "WARN", yellow
	}
	return "ERROR", red
}

// Format renders the error for a terminal: a headline, the source frame
// when a location is known, then detail, cause and hint.
func (e *BootzError) Format() string {
	var b strings.Builder
	label, tone := e.severity()

	b.WriteString("\n")
	if e.Code != "" {
		fmt.Fprintf(&b, "%s %s %s\n\n", paint(label, bold, tone), paint(e.Code+":", bold), e.Message)
	} else {
		fmt.Fprintf(&b, "%s %s\n\n", paint(label+":", bold, tone), e.Message)
	}

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", paint(e.Location.String(), cyan))
		e.writeFrame(&b)
	}

	if e.Detail != "" {
		// Multi-line details are diagnostics and keep their layout.
		lines := strings.Split(e.Detail, "\n")
		if len(lines) == 1 {
			lines = wrapText(e.Detail, 70)
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s%s\n\n", paint("Cause: ", gray), e.Wrapped.Error())
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", paint("Hint: ", cyan), e.Suggestion)
	}
	return b.String()
}

// writeFrame prints the context lines with the failing line marked.
func (e *BootzError) writeFrame(b *strings.Builder) {
	if len(e.Context) == 0 {
		return
	}
	gutter := paint(" │ ", gray)
	for i, line := range e.Context {
		n := e.ContextStart + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, gutter, line)
			continue
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", paint("→ ", red), n, gutter, line)
		if e.Location.Column > 0 {
			fmt.Fprintf(b, "       %s%s%s\n", paint("│ ", gray), strings.Repeat(" ", e.Location.Column-1), paint("^", red))
		}
	}
	b.WriteString("\n")
}

// FormatCompact renders the error on one line: location, code, message.
func (e *BootzError) FormatCompact() string {
	parts := make([]string, 0, 3)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	return strings.Join(append(parts, e.Message), ": ")
}

// wrapText greedily fills lines of at most width characters. A single word
// longer than width gets a line of its own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := []string{words[0]}
	for _, w := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(w) > width {
			lines = append(lines, w)
			continue
		}
		*last += " " + w
	}
	return lines
}

// Fprint writes err to w, formatted when it carries a BootzError.
func Fprint(w io.Writer, err error) {
	var be *BootzError
	if stderrors.As(err, &be) {
		fmt.Fprint(w, be.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", paint("ERROR:", bold, red), err.Error())
}
