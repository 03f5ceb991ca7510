// Package stream runs cancellable streaming chat sessions and publishes
// their events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/aye/internal/events"
	"github.com/samsaffron/aye/internal/llm"
)

// ErrSessionNotFound is returned for control operations on unknown ids.
var ErrSessionNotFound = errors.New("stream session not found")

// Gateway opens provider streams.
type Gateway interface {
	ExecChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error)
}

// Publisher receives stream events. Publish must not block.
type Publisher interface {
	Publish(e events.Event)
}

// Config tunes what events carry.
type Config struct {
	// IncludeAccumulated adds the text so far to every Chunk.
	IncludeAccumulated bool
	// CaptureToolCalls lists tool calls in the End event.
	CaptureToolCalls bool
}

// DefaultConfig matches what UI listeners expect.
func DefaultConfig() Config {
	return Config{IncludeAccumulated: true, CaptureToolCalls: true}
}

// Info describes a registered session.
type Info struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Active    bool      `json:"active"`
	Paused    bool      `json:"paused"`
	StartedAt time.Time `json:"started_at"`
}

// Manager is the registry of streaming sessions keyed by id.
type Manager struct {
	gateway   Gateway
	publisher Publisher
	cfg       Config
	logger    *slog.Logger

	sessions sync.Map // id -> *Session
	wg       sync.WaitGroup
}

func NewManager(gateway Gateway, publisher Publisher, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{gateway: gateway, publisher: publisher, cfg: cfg, logger: logger}
}

// StartStream registers a session and starts generating in the background.
// It returns as soon as the session is registered.
func (m *Manager) StartStream(req Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("model is required")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(id, req.Model, cancel)
	m.sessions.Store(id, s)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)
		defer cancel()
		m.run(ctx, s, req.chatRequest())
	}()

	m.logger.Debug("stream started", "stream_id", id, "model", req.Model)
	return id, nil
}

func (m *Manager) publish(s *Session, t EventType, data map[string]any) bool {
	return s.emit(t.Terminal(), func() {
		if m.publisher == nil {
			return
		}
		m.publisher.Publish(events.Event{
			Name: events.NameStream,
			Payload: Payload{
				EventType: t,
				StreamID:  s.ID,
				Data:      data,
				Timestamp: time.Now().UTC(),
			},
		})
	})
}

func (m *Manager) fail(s *Session, err error) {
	m.logger.Warn("stream failed", "stream_id", s.ID, "model", s.Model, "error", err)
	m.publish(s, EventError, map[string]any{"error": err.Error()})
}

// run drives one provider stream. Every emit re-checks the session, so a
// stop is honoured between chunks even if the provider keeps sending.
func (m *Manager) run(ctx context.Context, s *Session, req llm.ChatRequest) {
	stream, err := m.gateway.ExecChatStream(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(s, err)
		}
		return
	}
	defer stream.Close()

	if !m.publish(s, EventStart, map[string]any{"model": s.Model}) {
		return
	}

	var text strings.Builder
	toolCalls := []ToolCallData{}
	var usage *llm.Usage

	for {
		if !s.checkpoint(ctx) {
			return
		}
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				m.fail(s, err)
			}
			return
		}

		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			data := map[string]any{"content": ev.Text}
			if m.cfg.IncludeAccumulated {
				data["accumulated"] = text.String()
			}
			if !m.publish(s, EventChunk, data) {
				return
			}
		case llm.EventReasoningDelta:
			if !m.publish(s, EventReasoning, map[string]any{"content": ev.Text}) {
				return
			}
		case llm.EventToolCall:
			if ev.Tool == nil {
				continue
			}
			call := toolCallData(*ev.Tool)
			toolCalls = append(toolCalls, call)
			if !m.publish(s, EventToolCall, map[string]any{"tool_call": call}) {
				return
			}
		case llm.EventUsage:
			usage = ev.Use
		case llm.EventRetry:
			m.logger.Info("provider retry", "stream_id", s.ID, "attempt", ev.RetryAttempt, "max_attempts", ev.RetryMaxAttempts, "wait_secs", ev.RetryWaitSecs)
		case llm.EventError:
			if ctx.Err() == nil {
				err := ev.Err
				if err == nil {
					err = errors.New("provider stream failed")
				}
				m.fail(s, err)
			}
			return
		}
	}

	data := map[string]any{"final_response": text.String()}
	if m.cfg.CaptureToolCalls {
		data["tool_calls"] = toolCalls
	}
	if usage != nil {
		data["usage"] = usage
	}
	m.publish(s, EventEnd, data)
}

// StopStream removes a session and stops its task. No event for id is
// published after StopStream returns. Unknown ids are ignored.
func (m *Manager) StopStream(id string) {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return
	}
	v.(*Session).deactivate()
	m.logger.Debug("stream stopped", "stream_id", id)
}

// PauseStream holds a session before its next chunk.
func (m *Manager) PauseStream(id string) error {
	return m.control(id, ControlPause)
}

// ResumeStream releases a paused session.
func (m *Manager) ResumeStream(id string) error {
	return m.control(id, ControlResume)
}

func (m *Manager) control(id string, c Control) error {
	v, ok := m.sessions.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s := v.(*Session)
	if !s.Active() {
		return fmt.Errorf("%w: %s has finished", ErrSessionNotFound, id)
	}
	if !s.sendControl(c) {
		return fmt.Errorf("stream %s control queue is full", id)
	}
	return nil
}

// Session returns a registered session.
func (m *Manager) Session(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// List describes every registered session, oldest first.
func (m *Manager) List() []Info {
	out := []Info{}
	m.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		out = append(out, Info{ID: s.ID, Model: s.Model, Active: s.Active(), Paused: s.Paused(), StartedAt: s.StartedAt})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cleanup evicts sessions that are no longer active and returns how many
// were removed.
func (m *Manager) Cleanup() int {
	removed := 0
	m.sessions.Range(func(k, v any) bool {
		if !v.(*Session).Active() {
			if _, ok := m.sessions.LoadAndDelete(k); ok {
				removed++
			}
		}
		return true
	})
	if removed > 0 {
		m.logger.Debug("stream cleanup", "removed", removed)
	}
	return removed
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// StopAll stops every session and waits for their tasks to return.
func (m *Manager) StopAll() {
	m.sessions.Range(func(k, _ any) bool {
		m.StopStream(k.(string))
		return true
	})
	m.wg.Wait()
}
