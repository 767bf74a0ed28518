package response

import (
	"errors"
	"fmt"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/failure"
)

const kindInternal failure.Kind = "internal_error"

type Error struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Response is what the caller receives for one question. GeneratedSQL and
// ResultRows are null unless a query executed successfully.
type Response struct {
	Answer       string           `json:"answer"`
	GeneratedSQL *string          `json:"generatedSql"`
	ResultRows   []map[string]any `json:"resultRows"`
	Columns      []string         `json:"columns,omitempty"`
	Error        *Error           `json:"error"`
	Steps        []Step           `json:"steps,omitempty"`
	RunID        string           `json:"run_id,omitempty"`
}

type Step struct {
	Index       int          `json:"index"`
	Action      string       `json:"action"`
	Thought     string       `json:"thought,omitempty"`
	SQL         string       `json:"sql,omitempty"`
	Status      string       `json:"status,omitempty"`
	Observation string       `json:"observation"`
	IsError     bool         `json:"is_error"`
	FailureKind failure.Kind `json:"failure_kind,omitempty"`
}

var friendlyFailures = map[failure.Kind]string{
	failure.KindUnsafeStatement: "the generated statement tried to modify data, which is not allowed",
	failure.KindUnknownSchema:   "the generated statement referred to tables or columns that do not exist",
	failure.KindQueryTimeout:    "the query took too long to run",
	failure.KindResultTooLarge:  "the query returned more rows than can be shown",
	failure.KindExecution:       "the database could not run the generated statement",
}

// Assemble maps a finished agent run and its terminal error to a Response.
// It performs no I/O.
func Assemble(result agent.Result, err error) Response {
	resp := Response{Answer: result.Answer, Steps: steps(result.Steps)}
	if result.Query != nil && result.Outcome != nil && !result.Outcome.Failed() {
		sql := result.Query.SQL
		resp.GeneratedSQL = &sql
		resp.Columns = result.Outcome.Columns
		resp.ResultRows = result.Outcome.Rows
		if resp.ResultRows == nil {
			resp.ResultRows = []map[string]any{}
		}
	}
	if err == nil {
		return resp
	}

	kind := failure.KindOf(err)
	switch kind {
	case failure.KindAgentExhausted:
		message := "I could not determine an answer to that question. Try rephrasing it or asking something more specific."
		if last := lastFailure(result.Steps); last != "" {
			message = fmt.Sprintf("I could not determine an answer to that question: %s. Try rephrasing it or asking something more specific.", last)
		}
		resp.Answer = message
		resp.Error = &Error{Kind: kind, Message: message}
	case failure.KindProvider:
		message := "The language model provider rejected or failed the request. Check your API credentials and try again."
		resp.Answer = message
		resp.Error = &Error{Kind: kind, Message: message}
	case "":
		resp.Error = &Error{Kind: kindInternal, Message: "an internal error occurred"}
	default:
		resp.Error = &Error{Kind: kind, Message: messageOf(err)}
	}
	return resp
}

func lastFailure(history []agent.Step) string {
	for i := len(history) - 1; i >= 0; i-- {
		outcome := history[i].Outcome
		if outcome == nil || outcome.Failure == nil {
			continue
		}
		if friendly, ok := friendlyFailures[outcome.Failure.Kind]; ok {
			return friendly
		}
	}
	return ""
}

func messageOf(err error) string {
	var typed *failure.Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	return err.Error()
}

func steps(history []agent.Step) []Step {
	if len(history) == 0 {
		return nil
	}
	out := make([]Step, 0, len(history))
	for _, step := range history {
		view := Step{
			Index:       step.Index,
			Action:      "unknown",
			Thought:     step.Thought,
			Observation: step.Observation.Text,
			IsError:     step.Observation.IsError,
		}
		if step.Action != nil {
			view.Action = string(step.Action.Kind())
		}
		if step.Query != nil {
			view.SQL = step.Query.SQL
			view.Status = string(step.Query.Status)
		}
		if step.Outcome != nil && step.Outcome.Failure != nil {
			view.FailureKind = step.Outcome.Failure.Kind
		}
		out = append(out, view)
	}
	return out
}
