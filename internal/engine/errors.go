package engine

import "fmt"

// notLoadedError signals an operation attempted with no active model.
type notLoadedError struct{}

func (notLoadedError) Error() string { return "model not loaded" }

// IsNotLoaded reports whether err indicates no model is loaded.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

// tokenizationFailedError signals the backend could not tokenize input.
type tokenizationFailedError struct{ err error }

func (e tokenizationFailedError) Error() string {
	if e.err != nil {
		return "failed to tokenize prompt: " + e.err.Error()
	}
	return "failed to tokenize prompt"
}

func (e tokenizationFailedError) Unwrap() error { return e.err }

// IsTokenizationFailed reports whether err indicates a tokenizer failure.
func IsTokenizationFailed(err error) bool {
	_, ok := err.(tokenizationFailedError)
	return ok
}

// contextOverflowError signals the available prompt budget is below the
// minimum viable size even after truncation would apply.
type contextOverflowError struct{ budget int }

func (e contextOverflowError) Error() string {
	return fmt.Sprintf("context too small for generation: prompt budget %d is below the minimum %d", e.budget, minPromptBudget)
}

// IsContextOverflow reports whether err indicates an unusably small context.
func IsContextOverflow(err error) bool {
	_, ok := err.(contextOverflowError)
	return ok
}

// decodeFailedError signals a backend batch evaluation failure.
type decodeFailedError struct {
	stage string
	err   error
}

func (e decodeFailedError) Error() string {
	return fmt.Sprintf("decode failed during %s: %v", e.stage, e.err)
}

func (e decodeFailedError) Unwrap() error { return e.err }

// IsDecodeFailed reports whether err indicates a mid-generation decode failure.
func IsDecodeFailed(err error) bool {
	_, ok := err.(decodeFailedError)
	return ok
}

// loadFailedError signals a model load failure.
type loadFailedError struct {
	path string
	err  error
}

func (e loadFailedError) Error() string {
	return fmt.Sprintf("failed to load model from %s: %v", e.path, e.err)
}

func (e loadFailedError) Unwrap() error { return e.err }

// IsLoadFailed reports whether err indicates a model load failure.
func IsLoadFailed(err error) bool {
	_, ok := err.(loadFailedError)
	return ok
}
