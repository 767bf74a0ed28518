package prompt

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/schema"
)

const (
	DefaultHistoryBudget = 6000
	DefaultMaxTurns      = 10
)

const systemPrompt = `You answer questions about a tabular dataset by writing DuckDB SQL.

Rules:
- Only a single read-only statement is allowed: SELECT, or WITH ... SELECT. Never modify data or schema.
- Use only the tables and columns listed in the schema. Quote identifiers with double quotes when they contain upper case letters.
- Name aggregates with snake_case aliases, for example: SELECT AVG("Salary") AS avg_salary FROM "uploaded_table".
- Select explicit columns instead of *, and add LIMIT 100 to listings unless the user asks for more.
- Do not read files or call table functions such as read_csv.

Protocol:
- inspect_schema: look at the tables, column types and sample values again.
- run_query: execute one SQL statement and observe the rows or the error. Fix the statement and retry when it fails.
- final_answer: reply to the user in plain language once a query has produced the rows that answer the question.
Take one action per turn.`

type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Request is everything a generator needs for one question. It is not
// modified after Build returns.
type Request struct {
	Question string
	Schema   schema.Description
	History  []Turn
	System   string
	Context  string
}

type Builder struct {
	HistoryBudget int
	MaxTurns      int
}

func NewBuilder(historyBudget, maxTurns int) *Builder {
	if historyBudget <= 0 {
		historyBudget = DefaultHistoryBudget
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Builder{HistoryBudget: historyBudget, MaxTurns: maxTurns}
}

func (b *Builder) Build(question string, desc schema.Description, history []Turn) (Request, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Request{}, failure.New(failure.KindInvalidRequest, "question is required")
	}
	if len(desc.Tables) == 0 {
		return Request{}, failure.New(failure.KindNoDataset, "no dataset is loaded")
	}

	kept := b.truncate(history)
	return Request{
		Question: question,
		Schema:   desc,
		History:  kept,
		System:   systemPrompt,
		Context:  render(question, desc, kept),
	}, nil
}

// truncate drops the oldest turns until the rest fits both limits.
func (b *Builder) truncate(history []Turn) []Turn {
	start := 0
	if b.MaxTurns > 0 && len(history) > b.MaxTurns {
		start = len(history) - b.MaxTurns
	}
	for start < len(history) && b.HistoryBudget > 0 && historySize(history[start:]) > b.HistoryBudget {
		start++
	}
	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}

func historySize(turns []Turn) int {
	size := 0
	for _, turn := range turns {
		size += len(turn.Question) + len(turn.Answer)
	}
	return size
}

func render(question string, desc schema.Description, history []Turn) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(desc.Text())
	if len(history) > 0 {
		b.WriteString("\nEarlier in this conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", strings.TrimSpace(turn.Question), strings.TrimSpace(turn.Answer))
		}
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}
