package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForCLI(t *testing.T) {
	le := New(ErrCodeEngineLocked, "index root is locked", nil).
		WithSuggestion("stop the running worker first")

	out := FormatForCLI(le)

	assert.Contains(t, out, "Error: index root is locked")
	assert.Contains(t, out, "Hint: stop the running worker first")
	assert.Contains(t, out, "Code: ERR_207_ENGINE_LOCKED")
	assert.Equal(t, "Error: plain\n", FormatForCLI(errors.New("plain")))
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	le := Unavailable("closed", errors.New("index closed")).WithDetail("index", "course_1")

	attrs := LogAttrs(le)

	assert.Len(t, attrs, 6)
	assert.Nil(t, LogAttrs(nil))
	assert.Len(t, LogAttrs(errors.New("x")), 1)
}
