package nlp

import (
	"fmt"
)

// ModelNotFoundError reports that a model name resolves to nothing installed
// or reachable.
type ModelNotFoundError struct {
	Name string
	Err  error
}

func (e *ModelNotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model %q not found", e.Name)
	}
	return fmt.Sprintf("model %q not found: %v", e.Name, e.Err)
}

func (e *ModelNotFoundError) Unwrap() error { return e.Err }

// ModelLoadError reports a model that exists but could not be initialised.
type ModelLoadError struct {
	Name string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Name, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// AnnotationError reports that a model could not process a text.
type AnnotationError struct {
	Model string
	Err   error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("model %q failed to annotate text: %v", e.Model, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// OutputWriteError reports a failed write of token Index. Tokens before
// Index were written.
type OutputWriteError struct {
	Index int
	Err   error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("failed to write token %d: %v", e.Index, e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }
