package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/prompt"
	"github.com/querypilot/querypilot/internal/query"
)

const (
	DefaultMaxSteps = 10

	maxObservationRows  = 50
	maxObservationChars = 4000
)

type Observation struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

type Step struct {
	Index       int                   `json:"index"`
	Thought     string                `json:"thought,omitempty"`
	Action      Action                `json:"-"`
	CallID      string                `json:"call_id,omitempty"`
	Skipped     []string              `json:"-"`
	Observation Observation           `json:"observation"`
	Query       *query.GeneratedQuery `json:"query,omitempty"`
	Outcome     *query.Outcome        `json:"outcome,omitempty"`
	At          time.Time             `json:"at"`

	// Replay is the provider's own record of the turn that produced this
	// step, used to rebuild the transcript verbatim.
	Replay any `json:"-"`
}

// Decision is what a generator wants to do next.
type Decision struct {
	Thought string
	Action  Action
	CallID  string
	Skipped []string
	Replay  any
}

type Transcript struct {
	Request    prompt.Request
	Steps      []Step
	Credential string
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, transcript Transcript) (Decision, error)
}

type Result struct {
	Answer  string
	Steps   []Step
	Query   *query.GeneratedQuery
	Outcome *query.Outcome
	State   State
}

type Agent struct {
	Generator Generator
	Runner    *query.Runner
	MaxSteps  int
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(generator Generator, runner *query.Runner, maxSteps int, logger *slog.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{Generator: generator, Runner: runner, MaxSteps: maxSteps, Logger: logger, Now: time.Now}
}

// Run drives one question through the think/act loop until the model
// finalizes, the step budget runs out, or the provider fails. The returned
// Result is populated in every case; the error is nil only when finalized.
func (a *Agent) Run(ctx context.Context, req prompt.Request, credential string) (Result, error) {
	start := a.now()
	logger := observability.ForRequest(ctx, a.Logger)
	result := Result{State: StateStart}
	finish := func(state State, err error) (Result, error) {
		result.State = state
		outcome := string(state)
		if err != nil {
			outcome = string(failure.KindOf(err))
		}
		observability.ObserveAgentRun(outcome, a.now().Sub(start))
		logger.InfoContext(ctx, "agent_run",
			slog.String("provider", a.Generator.Name()),
			slog.String("state", string(state)),
			slog.Int("steps", len(result.Steps)),
			slog.Bool("has_query", result.Query != nil),
			slog.String("duration", a.now().Sub(start).String()),
		)
		return result, err
	}

	for index := 1; index <= a.MaxSteps; index++ {
		result.State = StateThinking
		decision, err := a.Generator.Generate(ctx, Transcript{Request: req, Steps: result.Steps, Credential: credential})
		if err != nil {
			observability.IncrementProviderError(a.Generator.Name())
			if !failure.Is(err, failure.KindProvider) {
				err = failure.Wrap(failure.KindProvider, a.Generator.Name()+" call failed", err)
			}
			return finish(StateAborted, err)
		}

		result.State = StateActing
		step := Step{
			Index:   index,
			Thought: decision.Thought,
			Action:  decision.Action,
			CallID:  decision.CallID,
			Skipped: decision.Skipped,
			Replay:  decision.Replay,
			At:      a.now().UTC(),
		}
		observability.IncrementAgentStep(kindOf(decision.Action))

		switch action := decision.Action.(type) {
		case InspectSchema:
			step.Observation = Observation{Text: req.Schema.Text()}
		case ProposeQuery:
			checked, outcome := a.Runner.Run(ctx, query.Candidate(action.SQL), req.Schema)
			step.Query = &checked
			step.Outcome = &outcome
			step.Observation = describeOutcome(outcome)
			if outcome.Failed() && !outcome.Failure.Kind.Recoverable() {
				// Rewriting the query cannot fix this, so stop instead of spending steps.
				result.Steps = append(result.Steps, step)
				a.logStep(ctx, logger, step)
				return finish(StateAborted, failure.New(outcome.Failure.Kind, outcome.Failure.Message))
			}
			if !outcome.Failed() {
				result.Query = &checked
				result.Outcome = &outcome
			}
		case FinalizeAnswer:
			if strings.TrimSpace(action.Answer) == "" {
				step.Observation = Observation{Text: "the final answer must not be empty", IsError: true}
				break
			}
			step.Observation = Observation{Text: "answer delivered"}
			result.Answer = strings.TrimSpace(action.Answer)
			result.Steps = append(result.Steps, step)
			a.logStep(ctx, logger, step)
			return finish(StateFinalized, nil)
		default:
			step.Observation = Observation{Text: "unrecognized action; use inspect_schema, run_query or final_answer", IsError: true}
		}

		result.Steps = append(result.Steps, step)
		a.logStep(ctx, logger, step)
	}

	return finish(StateAborted, failure.Newf(failure.KindAgentExhausted, "no final answer after %d steps", a.MaxSteps))
}

func (a *Agent) logStep(ctx context.Context, logger *slog.Logger, step Step) {
	attrs := []any{
		slog.Int("step", step.Index),
		slog.String("action", kindOf(step.Action)),
		slog.Bool("observation_error", step.Observation.IsError),
	}
	if step.Query != nil {
		attrs = append(attrs, slog.String("sql", step.Query.SQL), slog.String("status", string(step.Query.Status)))
	}
	if step.Outcome != nil && step.Outcome.Failure != nil {
		attrs = append(attrs, slog.String("failure_kind", string(step.Outcome.Failure.Kind)))
	}
	logger.DebugContext(ctx, "agent_step", attrs...)
}

func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// describeOutcome renders what the model sees after a query.
func describeOutcome(outcome query.Outcome) Observation {
	if outcome.Failure != nil {
		return Observation{
			Text:    fmt.Sprintf("error (%s): %s", outcome.Failure.Kind, outcome.Failure.Message),
			IsError: true,
		}
	}
	rows := outcome.Rows
	note := ""
	if len(rows) > maxObservationRows {
		rows = rows[:maxObservationRows]
		note = fmt.Sprintf(" (showing first %d)", maxObservationRows)
	}
	ordered := make([][]any, 0, len(rows))
	for _, row := range rows {
		values := make([]any, 0, len(outcome.Columns))
		for _, column := range outcome.Columns {
			values = append(values, row[column])
		}
		ordered = append(ordered, values)
	}
	payload, err := json.Marshal(map[string]any{"columns": outcome.Columns, "rows": ordered})
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", ordered))
	}
	text := fmt.Sprintf("%d rows%s: %s", len(outcome.Rows), note, payload)
	if len(text) > maxObservationChars {
		cut := maxObservationChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "... (truncated)"
	}
	return Observation{Text: text}
}
