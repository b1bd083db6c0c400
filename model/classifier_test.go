package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_TypedErrorsPassThrough(t *testing.T) {
	c := NewClassifier()

	fatal := NewFatalError(CodeAuth, "bad key")
	assert.Same(t, error(fatal), c.Classify(fatal))

	unavailable := &UnavailableError{Provider: "openai", Message: "overloaded"}
	assert.Same(t, error(unavailable), c.Classify(unavailable))

	assert.NoError(t, c.Classify(nil))
}

func TestClassify_SniffsStructuredJSONBody(t *testing.T) {
	c := NewClassifier()

	err := fmt.Errorf(`POST failed: 404 {"error":{"type":"not_found_error","message":"model_not_found: gpt-9"}}`)
	classified := c.Classify(err)
	var fatal *FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, CodeModelNotSupported, fatal.Code)
	// The original text is preserved for diagnostics.
	assert.Contains(t, fatal.Message, "gpt-9")
}

func TestClassify_StructuredFieldsBeatRawText(t *testing.T) {
	// The raw text mentions "rate limit" but the structured body says the
	// key is invalid; fields win when present.
	c := NewClassifier()
	err := fmt.Errorf(`request failed (not a rate limit issue): {"error":{"code":"invalid_api_key","message":"Incorrect API key provided"}}`)
	classified := c.Classify(err)
	var fatal *FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, CodeAuth, fatal.Code)
}

func TestClassify_RawTextFallback(t *testing.T) {
	c := NewClassifier()
	err := errors.New("this model is not supported for tool use")
	classified := c.Classify(err)
	var fatal *FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, CodeModelNotSupported, fatal.Code)
}

func TestClassify_TruncatedJSONBody(t *testing.T) {
	c := NewClassifier()
	err := fmt.Errorf(`upstream said: {"error":{"type":"authentication_error","message":"expired tok`)
	classified := c.Classify(err)
	var fatal *FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, CodeAuth, fatal.Code)
}

func TestClassify_TransientStaysUntyped(t *testing.T) {
	c := NewClassifier()
	err := errors.New("read tcp 10.0.0.1:443: connection reset by peer")
	assert.Same(t, err, c.Classify(err))
}

func TestClassify_CustomPatterns(t *testing.T) {
	c := NewClassifier(func(o *ClassifierOptions) {
		o.Patterns = append(DefaultFatalPatterns(), FatalPattern{
			Code:       CodeInvalidRequest,
			Substrings: []string{"custom poison marker"},
		})
	})
	classified := c.Classify(errors.New("rejected: custom poison marker present"))
	var fatal *FatalError
	require.True(t, errors.As(classified, &fatal))
	assert.Equal(t, CodeInvalidRequest, fatal.Code)
}

func TestLooksUnavailable(t *testing.T) {
	assert.True(t, LooksUnavailable(&UnavailableError{Provider: "x", Message: "y"}))
	assert.True(t, LooksUnavailable(errors.New("503 Service Unavailable")))
	assert.True(t, LooksUnavailable(errors.New("Anthropic is overloaded, retry later")))
	assert.True(t, LooksUnavailable(errors.New("rate limit exceeded")))
	assert.False(t, LooksUnavailable(errors.New("invalid_api_key")))
	assert.False(t, LooksUnavailable(nil))
}

func TestIsFatalIsUnavailable(t *testing.T) {
	wrapped := fmt.Errorf("request: %w", NewFatalError(CodeAuth, "no"))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsUnavailable(wrapped))

	wrappedU := fmt.Errorf("request: %w", &UnavailableError{Provider: "p", Message: "m"})
	assert.True(t, IsUnavailable(wrappedU))
	assert.False(t, IsFatal(wrappedU))
}
