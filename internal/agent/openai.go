package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/failure"
)

const openAIProtocol = `Reply with one JSON object and nothing else:
{"thought": "...", "action": "inspect_schema" | "run_query" | "final_answer", "sql": "...", "answer": "..."}
Set "sql" only for run_query and "answer" only for final_answer.`

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

type openAIReply struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
	SQL     string `json:"sql,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("base URL must be http or https: %q", cfg.BaseURL)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, transcript Transcript) (Decision, error) {
	apiKey := strings.TrimSpace(transcript.Credential)
	if apiKey == "" {
		apiKey = g.apiKey
	}
	if apiKey == "" {
		return Decision{}, failure.New(failure.KindProvider, "no openai api key configured; supply one with the request")
	}

	body, err := json.Marshal(buildOpenAIPayload(g.model, g.temperature, g.maxTokens, transcript))
	if err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "marshal chat payload", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "request chat completion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "read chat response body", err)
	}
	if resp.StatusCode >= 400 {
		return Decision{}, failure.Newf(failure.KindProvider, "chat completion failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rawRespBody)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return Decision{}, failure.New(failure.KindProvider, "empty chat completion choices")
	}
	return parseOpenAIReply(parsed.Choices[0].Message.Content)
}

func buildOpenAIPayload(model string, temperature float64, maxTokens int, transcript Transcript) map[string]any {
	messages := []map[string]string{
		{"role": "system", "content": strings.TrimSpace(transcript.Request.System + "\n\n" + openAIProtocol)},
		{"role": "user", "content": transcript.Request.Context},
	}
	for _, step := range transcript.Steps {
		assistant, ok := step.Replay.(string)
		if !ok {
			assistant = replyFromStep(step)
		}
		observation := "Observation: " + step.Observation.Text
		if step.Observation.IsError {
			observation = "Observation (error): " + step.Observation.Text
		}
		messages = append(messages,
			map[string]string{"role": "assistant", "content": assistant},
			map[string]string{"role": "user", "content": observation},
		)
	}
	payload := map[string]any{
		"model":           model,
		"messages":        messages,
		"temperature":     temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}
	return payload
}

func parseOpenAIReply(content string) (Decision, error) {
	raw := stripMarkdownFence(content)
	var reply openAIReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Decision{}, failure.Wrap(failure.KindProvider, "model reply is not the expected JSON object", err)
	}
	decision := Decision{Thought: strings.TrimSpace(reply.Thought), Replay: raw}
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(reply.Action)), "-", "_") {
	case toolInspectSchema:
		decision.Action = InspectSchema{}
	case toolRunQuery, "propose_query":
		if sql := stripMarkdownFence(reply.SQL); sql != "" {
			decision.Action = ProposeQuery{SQL: sql}
		}
	case toolFinalAnswer, "finalize_answer":
		decision.Action = FinalizeAnswer{Answer: reply.Answer}
	}
	return decision, nil
}

func replyFromStep(step Step) string {
	reply := openAIReply{Thought: step.Thought}
	switch action := step.Action.(type) {
	case InspectSchema:
		reply.Action = toolInspectSchema
	case ProposeQuery:
		reply.Action = toolRunQuery
		reply.SQL = action.SQL
	case FinalizeAnswer:
		reply.Action = toolFinalAnswer
		reply.Answer = action.Answer
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		return step.Thought
	}
	return string(encoded)
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
