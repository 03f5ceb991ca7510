package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default base URLs for the adapters that speak the OpenAI chat completions dialect.
const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	xaiBaseURL      = "https://api.x.ai/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
	cohereBaseURL   = "https://api.cohere.ai/compatibility/v1"
	ollamaBaseURL   = "http://localhost:11434/v1"
)

// OpenAIProvider implements Provider over the Chat Completions API. It also
// serves every OpenAI-compatible adapter by pointing the client at another base URL.
type OpenAIProvider struct {
	client  *openai.Client
	name    string
	baseURL string
	keyless bool
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	Name           string // Display name, defaults to "OpenAI"
	APIKey         string
	BaseURL        string // Empty uses the SDK default
	RequestTimeout time.Duration
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	name := opts.Name
	if name == "" {
		name = "OpenAI"
	}
	apiKey := opts.APIKey
	keyless := apiKey == ""
	if keyless {
		// Local servers ignore the key but the SDK refuses to send an empty one.
		apiKey = "unused"
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAIProvider{
		client:  &client,
		name:    name,
		baseURL: opts.BaseURL,
		keyless: keyless,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Credential() string {
	if p.keyless {
		return "none"
	}
	return "api_key"
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Reasoning: true}
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:      m.ID,
			Created: m.Created,
		})
	}
	return models, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(req.Model),
			Messages: buildOpenAIMessages(req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
		}
		if req.Temperature != nil {
			params.Temperature = openai.Float(*req.Temperature)
		}
		if req.TopP != nil {
			params.TopP = openai.Float(*req.TopP)
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		emitted := make(map[string]bool)
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if tool, ok := acc.JustFinishedToolCall(); ok {
				emitted[tool.ID] = true
				events <- Event{Type: EventToolCall, Tool: &ToolCall{
					ID:        tool.ID,
					Name:      tool.Name,
					Arguments: json.RawMessage(tool.Arguments),
				}}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if reasoning := openAIReasoning(delta); reasoning != "" {
				events <- Event{Type: EventReasoningDelta, Text: reasoning}
			}
			if delta.Content != "" {
				events <- Event{Type: EventTextDelta, Text: delta.Content}
			}
		}
		if err := stream.Err(); err != nil {
			return ClassifyError(p.name, err)
		}

		// The accumulator only reports a finished tool call when the next one
		// starts, so the last call of a turn may still be pending here.
		if len(acc.Choices) > 0 {
			for _, tc := range acc.Choices[0].Message.ToolCalls {
				if emitted[tc.ID] {
					continue
				}
				events <- Event{Type: EventToolCall, Tool: &ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				}}
			}
		}
		if acc.Usage.TotalTokens > 0 {
			events <- Event{Type: EventUsage, Use: &Usage{
				InputTokens:  int(acc.Usage.PromptTokens),
				OutputTokens: int(acc.Usage.CompletionTokens),
			}}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// openAIReasoning extracts the non-standard reasoning_content delta that
// DeepSeek, xAI and some Ollama models send alongside content.
func openAIReasoning(delta openai.ChatCompletionChunkChoiceDelta) string {
	field, ok := delta.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	raw := field.Raw()
	if raw == "" || raw == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(raw), &text); err != nil {
		return ""
	}
	return text
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(normalizeSchema(spec.Schema)),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

// normalizeSchema guarantees an object schema with a properties map, which
// every provider requires even for tools that take no arguments.
func normalizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}
