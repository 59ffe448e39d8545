package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bootz-dev/bootz/internal/config"
	"github.com/bootz-dev/bootz/internal/errors"
)

func TestResult_Immutable(t *testing.T) {
	errs := []Diagnostic{{Text: "boom", File: "a.ts", Line: 1, Column: 2}}
	outputs := []string{"/out/server.js"}

	r := NewResult(config.Server, errs, nil, outputs, time.Second)
	errs[0].Text = "changed"
	outputs[0] = "changed"

	assert.Equal(t, "boom", r.Errors()[0].Text)
	assert.Equal(t, "/out/server.js", r.Outputs()[0])

	got := r.Errors()
	got[0].Text = "changed again"
	assert.Equal(t, "boom", r.Errors()[0].Text)
}

func TestResult_Diagnostics(t *testing.T) {
	r := NewResult(config.Client,
		[]Diagnostic{{Text: "Could not resolve \"x\"", File: "src/a.ts", Line: 3, Column: 8}},
		[]Diagnostic{{Text: "unused", File: "src/b.ts"}},
		nil, 0)

	assert.True(t, r.HasErrors())
	assert.Equal(t, config.Client, r.Target())
	assert.Equal(t, "error: src/a.ts:3:8: Could not resolve \"x\"\nwarning: src/b.ts: unused", r.Diagnostics())
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, NewResult(config.Client, nil, nil, nil, 0).Err())

	err := NewResult(config.Client, []Diagnostic{{Text: "bad"}}, nil, nil, 0).Err()
	require.Error(t, err)
	assert.Equal(t, "E140", errors.Code(err))
	assert.False(t, errors.IsFatal(err))
}

func TestResult_ZeroValue(t *testing.T) {
	var r Result
	assert.False(t, r.HasErrors())
	assert.Empty(t, r.Diagnostics())
	assert.Empty(t, r.Outputs())
}
