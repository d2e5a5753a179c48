package entries

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures for retry policy and callers.
type ErrorKind string

const (
	KindClassificationUnavailable ErrorKind = "ClassificationUnavailable"
	KindExtractionFailed          ErrorKind = "ExtractionFailed"
	KindEmbeddingUnavailable      ErrorKind = "EmbeddingUnavailable"
	KindVectorIndexUnavailable    ErrorKind = "VectorIndexUnavailable"
	KindTranscriptionUnavailable  ErrorKind = "TranscriptionUnavailable"
	KindTimeout                   ErrorKind = "Timeout"
	KindValidation                ErrorKind = "ValidationError"
	KindPersistenceFailed         ErrorKind = "PersistenceFailed"
	KindNotFound                  ErrorKind = "NotFound"
)

// Transient kinds are retried with backoff before an entry is failed.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindClassificationUnavailable, KindEmbeddingUnavailable, KindVectorIndexUnavailable,
		KindTranscriptionUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// StageError is an error tagged with its kind and the pipeline stage it
// happened in.
type StageError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		fmt.Fprintf(&b, " at %s", e.Stage)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Cause }

func NewError(kind ErrorKind, message string, cause error) error {
	return &StageError{Kind: kind, Message: strings.TrimSpace(message), Cause: cause}
}

func Wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: kind, Cause: err}
}

// AtStage stamps the stage on err, keeping an already-set stage.
func AtStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage != "" {
			return err
		}
		cp := *se
		cp.Stage = stage
		return &cp
	}
	return &StageError{Kind: KindOf(err), Stage: stage, Cause: err}
}

// KindOf extracts the kind of err. Deadline errors map to Timeout; anything
// unclassified is reported as a persistence failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindPersistenceFailed
}

func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }
