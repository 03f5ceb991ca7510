package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API.
type GeminiProvider struct {
	apiKey  string
	timeout time.Duration
}

// GeminiOptions configures a GeminiProvider.
type GeminiOptions struct {
	APIKey         string
	RequestTimeout time.Duration
}

func NewGeminiProvider(opts GeminiOptions) *GeminiProvider {
	return &GeminiProvider{apiKey: opts.APIKey, timeout: opts.RequestTimeout}
}

func (p *GeminiProvider) Name() string {
	return "Gemini"
}

func (p *GeminiProvider) Credential() string {
	return "api_key"
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Reasoning: true}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	cfg := &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI}
	if p.timeout > 0 {
		timeout := p.timeout
		cfg.HTTPOptions.Timeout = &timeout
	}
	return genai.NewClient(ctx, cfg)
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return &Error{Kind: KindInvalidRequest, Provider: p.Name(), Message: "no user content provided"}
		}

		config := &genai.GenerateContentConfig{}
		if geminiSupportsThinking(req.Model) {
			config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
		}
		if req.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*req.Temperature))
		}
		if req.TopP != nil {
			config.TopP = genai.Ptr(float32(*req.TopP))
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}

		var lastResp *genai.GenerateContentResponse
		callIndex := 0
		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				return ClassifyError(p.Name(), err)
			}
			lastResp = resp
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					id := part.FunctionCall.ID
					if id == "" {
						id = fmt.Sprintf("call_%d", callIndex)
					}
					callIndex++
					events <- Event{Type: EventToolCall, Tool: &ToolCall{
						ID:        id,
						Name:      part.FunctionCall.Name,
						Arguments: args,
					}}
				case part.Thought && part.Text != "":
					events <- Event{Type: EventReasoningDelta, Text: part.Text}
				case part.Text != "":
					events <- Event{Type: EventTextDelta, Text: part.Text}
				}
			}
		}

		emitGeminiUsage(events, lastResp)
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// geminiSupportsThinking reports whether the model accepts a thinking config.
// Earlier generations reject the field outright.
func geminiSupportsThinking(model string) bool {
	return strings.HasPrefix(model, "gemini-2.5") || strings.HasPrefix(model, "gemini-3")
}

func emitGeminiUsage(events chan<- Event, resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	if resp.UsageMetadata.TotalTokenCount > 0 {
		events <- Event{Type: EventUsage, Use: &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}}
	}
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: geminiSchema(normalizeSchema(spec.Schema)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}
