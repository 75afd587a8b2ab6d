package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsInnerCode(t *testing.T) {
	base := MissingColumn("rt_ms", []string{"rt_ms", "movement_time_ms"})
	wrapped := Wrapf(base, "reading %s", "trials.csv")

	assert.Equal(t, CodeMissingColumn, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "reading trials.csv")
	assert.Contains(t, wrapped.Error(), "rt_ms")
}

func TestWrapPlainErrorIsInternal(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, "writing trace")

	assert.Equal(t, CodeInternalError, GetCode(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("x")))
	assert.Equal(t, CodeSamplerFailed, GetCode(WithCode(CodeSamplerFailed, stderrors.New("x"))))
}
