package query

import (
	"context"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRowCap  = 10000
)

type Status string

const (
	StatusUnvalidated Status = "unvalidated"
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
)

type Failure struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// GeneratedQuery is one candidate statement. The Runner returns a new value
// carrying the validation verdict instead of mutating its input.
type GeneratedQuery struct {
	SQL     string   `json:"sql"`
	Status  Status   `json:"status"`
	Failure *Failure `json:"failure,omitempty"`
}

func Candidate(sql string) GeneratedQuery {
	return GeneratedQuery{SQL: sql, Status: StatusUnvalidated}
}

type Request struct {
	SQL    string
	RowCap int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Engine executes a validated statement. Implementations return
// failure-typed errors for timeouts and oversized results.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Outcome is either rows or a structured failure, never both.
type Outcome struct {
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows,omitempty"`
	Failure  *Failure         `json:"failure,omitempty"`
	Duration time.Duration    `json:"duration_ns"`
}

func (o Outcome) Failed() bool {
	return o.Failure != nil
}
