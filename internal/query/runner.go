package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/guard"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schema"
)

type Runner struct {
	Engine  Engine
	Timeout time.Duration
	RowCap  int
}

func NewRunner(engine Engine, timeout time.Duration, rowCap int) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Runner{Engine: engine, Timeout: timeout, RowCap: rowCap}
}

// Run validates and executes a candidate. It never returns an error: every
// problem is reported in the Outcome so the agent can observe it.
func (r *Runner) Run(ctx context.Context, candidate GeneratedQuery, desc schema.Description) (GeneratedQuery, Outcome) {
	checked := GeneratedQuery{SQL: candidate.SQL, Status: StatusValid}
	if err := guard.Validate(candidate.SQL, desc); err != nil {
		f := toFailure(err, failure.KindUnsafeStatement)
		observability.IncrementValidationRejection(string(f.Kind))
		checked.Status = StatusInvalid
		checked.Failure = f
		return checked, Outcome{Failure: f}
	}
	if r.Engine == nil {
		f := &Failure{Kind: failure.KindNoDataset, Message: "no dataset is loaded"}
		return checked, Outcome{Failure: f}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	start := time.Now()
	result, err := r.Engine.Execute(execCtx, Request{SQL: candidate.SQL, RowCap: r.RowCap})
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = failure.Wrap(failure.KindQueryTimeout, fmt.Sprintf("query exceeded the %s timeout", r.Timeout), err)
		}
		f := toFailure(err, failure.KindExecution)
		observability.ObserveQuery(elapsed, string(f.Kind))
		return checked, Outcome{Failure: f, Duration: elapsed}
	}
	if len(result.Rows) > r.RowCap {
		f := &Failure{Kind: failure.KindResultTooLarge, Message: fmt.Sprintf("query returned more than %d rows; aggregate or add a LIMIT", r.RowCap)}
		observability.ObserveQuery(elapsed, string(f.Kind))
		return checked, Outcome{Failure: f, Duration: elapsed}
	}
	observability.ObserveQuery(elapsed, "")
	return checked, Outcome{
		Columns:  uniqueColumns(result.Columns),
		Rows:     rowMaps(result.Columns, result.Rows),
		Duration: elapsed,
	}
}

func toFailure(err error, fallback failure.Kind) *Failure {
	var typed *failure.Error
	if errors.As(err, &typed) {
		message := typed.Message
		if typed.Err != nil && typed.Kind == failure.KindExecution {
			message += ": " + typed.Err.Error()
		}
		return &Failure{Kind: typed.Kind, Message: message}
	}
	return &Failure{Kind: fallback, Message: err.Error()}
}

// uniqueColumns suffixes repeated result column names so each row can be a map.
func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, name := range columns {
		seen[name]++
		if seen[name] == 1 {
			out[i] = name
			continue
		}
		candidate := name + "_" + strconv.Itoa(seen[name])
		for seen[candidate] > 0 {
			seen[name]++
			candidate = name + "_" + strconv.Itoa(seen[name])
		}
		seen[candidate] = 1
		out[i] = candidate
	}
	return out
}

func rowMaps(columns []string, rows [][]any) []map[string]any {
	keys := uniqueColumns(columns)
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(keys))
		for i, key := range keys {
			if i < len(row) {
				m[key] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
