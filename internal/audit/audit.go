// Package audit records finished agent runs and their step sequences.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/failure"
)

var (
	ErrNotFound = errors.New("audit record not found")
	ErrDisabled = errors.New("audit log is disabled")
)

type Run struct {
	RunID        string       `json:"run_id"`
	SessionID    string       `json:"session_id"`
	DatasetID    string       `json:"dataset_id,omitempty"`
	Question     string       `json:"question"`
	Answer       string       `json:"answer"`
	GeneratedSQL string       `json:"generated_sql,omitempty"`
	State        string       `json:"state"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Provider     string       `json:"provider"`
	StepCount    int          `json:"step_count"`
	DurationMS   int64        `json:"duration_ms"`
	CreatedAt    time.Time    `json:"created_at"`
	Steps        []StepRecord `json:"steps,omitempty"`
}

type StepRecord struct {
	Index       int       `json:"index"`
	Action      string    `json:"action"`
	Thought     string    `json:"thought,omitempty"`
	SQL         string    `json:"sql,omitempty"`
	Status      string    `json:"status,omitempty"`
	Observation string    `json:"observation"`
	IsError     bool      `json:"is_error"`
	FailureKind string    `json:"failure_kind,omitempty"`
	At          time.Time `json:"at"`
}

type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, sessionID string, limit int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Nop is used when the audit log is not configured.
type Nop struct{}

func (Nop) RecordRun(context.Context, Run) error { return nil }

func (Nop) ListRuns(context.Context, string, int) ([]Run, error) { return nil, ErrDisabled }

func (Nop) GetRun(context.Context, string) (Run, error) { return Run{}, ErrDisabled }

type RunInput struct {
	RunID     string
	SessionID string
	DatasetID string
	Question  string
	Provider  string
	Result    agent.Result
	Err       error
	Started   time.Time
	Elapsed   time.Duration
}

func NewRun(in RunInput) Run {
	run := Run{
		RunID:      in.RunID,
		SessionID:  in.SessionID,
		DatasetID:  in.DatasetID,
		Question:   in.Question,
		Answer:     in.Result.Answer,
		State:      string(in.Result.State),
		ErrorKind:  string(failure.KindOf(in.Err)),
		Provider:   in.Provider,
		StepCount:  len(in.Result.Steps),
		DurationMS: in.Elapsed.Milliseconds(),
		CreatedAt:  in.Started.UTC(),
	}
	if in.Err != nil && run.ErrorKind == "" {
		run.ErrorKind = "internal_error"
	}
	if in.Result.Query != nil {
		run.GeneratedSQL = in.Result.Query.SQL
	}
	for _, step := range in.Result.Steps {
		record := StepRecord{
			Index:       step.Index,
			Action:      "unknown",
			Thought:     step.Thought,
			Observation: step.Observation.Text,
			IsError:     step.Observation.IsError,
			At:          step.At,
		}
		if step.Action != nil {
			record.Action = string(step.Action.Kind())
		}
		if step.Query != nil {
			record.SQL = step.Query.SQL
			record.Status = string(step.Query.Status)
		}
		if step.Outcome != nil && step.Outcome.Failure != nil {
			record.FailureKind = string(step.Outcome.Failure.Kind)
		}
		run.Steps = append(run.Steps, record)
	}
	return run
}
