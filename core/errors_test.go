package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError(CodeSessionBusy, "session s1 is already responding")

	assert.True(t, errors.Is(err, &Error{Code: CodeSessionBusy}))
	assert.False(t, errors.Is(err, &Error{Code: CodeNotFound}))
}

func TestErrorIsSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("acquire session: %w", NewError(CodeSessionHandoffProcessing, "busy"))

	assert.True(t, errors.Is(err, &Error{Code: CodeSessionHandoffProcessing}))
	assert.Equal(t, CodeSessionHandoffProcessing, ErrorCode(err))
}

func TestErrorCodeWithoutCode(t *testing.T) {
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))
}

func TestSentinels(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrNotFound)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, CodeLoopCanceled, ErrorCode(ErrLoopCanceled))
}
