// Package failure defines the typed error taxonomy shared by the pipeline.
// Every error that crosses a component boundary carries a Kind so callers can
// route it (recover inside the agent loop, abort the request, or surface it)
// without string matching.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindIngestion       Kind = "ingestion_error"
	KindIntrospection   Kind = "introspection_error"
	KindUnsafeStatement Kind = "unsafe_statement"
	KindUnknownSchema   Kind = "unknown_schema"
	KindQueryTimeout    Kind = "query_timeout"
	KindResultTooLarge  Kind = "result_too_large"
	KindExecution       Kind = "execution_error"
	KindAgentExhausted  Kind = "agent_exhausted"
	KindProvider        Kind = "provider_error"
	KindInvalidRequest  Kind = "invalid_request"
	KindNoDataset       Kind = "no_dataset"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// carries no classification.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Recoverable reports whether the agent may observe the failure and retry.
func (k Kind) Recoverable() bool {
	switch k {
	case KindUnsafeStatement, KindUnknownSchema, KindQueryTimeout, KindResultTooLarge, KindExecution:
		return true
	default:
		return false
	}
}
