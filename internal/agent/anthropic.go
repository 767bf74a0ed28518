package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/querypilot/querypilot/internal/failure"
)

const (
	toolInspectSchema = "inspect_schema"
	toolRunQuery      = "run_query"
	toolFinalAnswer   = "final_answer"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AnthropicGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	tools       []anthropic.ToolUnionUnionParam
}

func NewAnthropicGenerator(cfg AnthropicConfig) *AnthropicGenerator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &AnthropicGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		tools:       anthropicTools(),
	}
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

func (g *AnthropicGenerator) Generate(ctx context.Context, transcript Transcript) (Decision, error) {
	apiKey := strings.TrimSpace(transcript.Credential)
	if apiKey == "" {
		apiKey = g.apiKey
	}
	if apiKey == "" {
		return Decision{}, failure.New(failure.KindProvider, "no anthropic api key configured; supply one with the request")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if g.baseURL != "" {
		opts = append(opts, option.WithBaseURL(g.baseURL))
	}
	client := anthropic.NewClient(opts...)

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(anthropic.Model(g.model)),
		MaxTokens:   anthropic.F(int64(g.maxTokens)),
		Temperature: anthropic.F(g.temperature),
		Messages:    anthropic.F(anthropicMessages(transcript)),
		Tools:       anthropic.F(g.tools),
	}
	if system := strings.TrimSpace(transcript.Request.System); system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := client.Messages.New(callCtx, params)
	if err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "anthropic messages call failed", err)
	}
	return anthropicDecision(resp), nil
}

func anthropicTools() []anthropic.ToolUnionUnionParam {
	object := func(properties map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	return []anthropic.ToolUnionUnionParam{
		anthropic.ToolParam{
			Name:        anthropic.String(toolInspectSchema),
			Description: anthropic.String("Show the tables, column types and sample values of the loaded dataset."),
			InputSchema: anthropic.F[interface{}](object(map[string]any{})),
		},
		anthropic.ToolParam{
			Name:        anthropic.String(toolRunQuery),
			Description: anthropic.String("Execute one read-only DuckDB SELECT statement and return its rows or an error."),
			InputSchema: anthropic.F[interface{}](object(map[string]any{
				"sql": map[string]any{"type": "string", "description": "A single SELECT or WITH statement."},
			}, "sql")),
		},
		anthropic.ToolParam{
			Name:        anthropic.String(toolFinalAnswer),
			Description: anthropic.String("Reply to the user in plain language. Ends the conversation turn."),
			InputSchema: anthropic.F[interface{}](object(map[string]any{
				"answer": map[string]any{"type": "string"},
			}, "answer")),
		},
	}
}

// anthropicMessages replays the transcript: the assistant turn recorded with
// each step, followed by the observation as a tool result.
func anthropicMessages(transcript Transcript) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(transcript.Request.Context)),
	}
	for _, step := range transcript.Steps {
		replay, ok := step.Replay.(anthropic.MessageParam)
		if !ok || step.CallID == "" {
			if ok {
				messages = append(messages, replay)
			} else {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(summarizeAction(step))))
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(step.Observation.Text)))
			continue
		}
		messages = append(messages, replay)
		results := []anthropic.ContentBlockParamUnion{
			anthropic.NewToolResultBlock(step.CallID, step.Observation.Text, step.Observation.IsError),
		}
		for _, id := range step.Skipped {
			results = append(results, anthropic.NewToolResultBlock(id, "skipped: take one action per turn", true))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}
	return messages
}

func anthropicDecision(resp *anthropic.Message) Decision {
	var thought strings.Builder
	decision := Decision{Replay: resp.ToParam()}
	for _, block := range resp.Content {
		switch b := block.AsUnion().(type) {
		case anthropic.TextBlock:
			thought.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			if decision.CallID != "" {
				decision.Skipped = append(decision.Skipped, b.ID)
				continue
			}
			decision.CallID = b.ID
			decision.Action = toolAction(b.Name, b.Input)
		}
	}
	decision.Thought = strings.TrimSpace(thought.String())
	if decision.CallID == "" {
		decision.Action = FinalizeAnswer{Answer: decision.Thought}
	}
	return decision
}

// toolAction returns nil for unknown tools or malformed input so the agent
// reports it back as an error observation.
func toolAction(name string, input json.RawMessage) Action {
	var args struct {
		SQL    string `json:"sql"`
		Answer string `json:"answer"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil
		}
	}
	switch name {
	case toolInspectSchema:
		return InspectSchema{}
	case toolRunQuery:
		if strings.TrimSpace(args.SQL) == "" {
			return nil
		}
		return ProposeQuery{SQL: args.SQL}
	case toolFinalAnswer:
		return FinalizeAnswer{Answer: args.Answer}
	default:
		return nil
	}
}

func summarizeAction(step Step) string {
	switch action := step.Action.(type) {
	case ProposeQuery:
		return fmt.Sprintf("%s\n%s: %s", step.Thought, toolRunQuery, action.SQL)
	case FinalizeAnswer:
		return action.Answer
	default:
		return strings.TrimSpace(step.Thought + "\n" + kindOf(step.Action))
	}
}
