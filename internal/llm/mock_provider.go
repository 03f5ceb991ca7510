package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn scripts one Stream call of a MockProvider.
type MockTurn struct {
	Text       string
	Reasoning  string
	ToolCalls  []ToolCall
	Usage      *Usage
	Err        error         // Sent as EventError after any text
	Delay      time.Duration // Before the first event
	ChunkDelay time.Duration // Between text chunks
	ChunkSize  int           // Defaults to 8 runes
}

// MockProvider replays scripted turns. It records every request it receives.
type MockProvider struct {
	name string
	caps Capabilities

	mu       sync.Mutex
	turns    []MockTurn
	turn     int
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, caps: Capabilities{ToolCalls: true}}
}

func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

func (p *MockProvider) Name() string               { return p.name }
func (p *MockProvider) Credential() string         { return "mock" }
func (p *MockProvider) Capabilities() Capabilities { return p.caps }

// AddTurn appends a scripted turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse scripts a plain text turn.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text})
}

// AddToolCall scripts a turn consisting of one tool call.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, _ := json.Marshal(args)
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError scripts a turn that fails mid-stream.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// CurrentTurn returns the index of the next turn to be replayed.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn
}

// Reset forgets recorded requests and rewinds to the first turn.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turn = 0
	p.Requests = nil
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	if p.turn >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %s: no more turns (got %d requests)", p.name, len(p.Requests)+1)
	}
	turn := p.turns[p.turn]
	p.turn++
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if err := sleepCtx(ctx, turn.Delay); err != nil {
			return err
		}
		if turn.Reasoning != "" {
			events <- Event{Type: EventReasoningDelta, Text: turn.Reasoning}
		}
		size := turn.ChunkSize
		if size <= 0 {
			size = 8
		}
		for i, chunk := range chunkText(turn.Text, size) {
			if i > 0 {
				if err := sleepCtx(ctx, turn.ChunkDelay); err != nil {
					return err
				}
			}
			select {
			case events <- Event{Type: EventTextDelta, Text: chunk}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Err != nil {
			return turn.Err
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		usage := turn.Usage
		if usage == nil {
			usage = &Usage{InputTokens: 10, OutputTokens: len(turn.Text) / 4}
		}
		events <- Event{Type: EventUsage, Use: usage}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
