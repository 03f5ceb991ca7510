package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samsaffron/aye/internal/app"
	"github.com/samsaffron/aye/internal/events"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/signal"
	"github.com/samsaffron/aye/internal/stream"
	"github.com/spf13/cobra"
)

var (
	chatModel     string
	chatSystem    string
	chatNoStream  bool
	chatMCP       bool
	chatMaxTokens int
	chatReasoning bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send one prompt to a model",
	Long: `Send one prompt to a model and print the reply.

The prompt is read from stdin when no argument is given. Models are
written as "provider:model"; a bare model name is routed by its prefix.

Examples:
  aye chat "hello"
  aye chat -m anthropic:claude-3-haiku-20240307 "summarise this" < notes.txt
  aye chat --mcp "list the files in /tmp"
  aye chat --no-stream -m ollama:llama3.2 "hi"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use (default from config)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "Wait for the full reply instead of streaming")
	chatCmd.Flags().BoolVar(&chatMCP, "mcp", false, "Offer tools from connected MCP servers")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "Maximum output tokens")
	chatCmd.Flags().BoolVar(&chatReasoning, "reasoning", false, "Print reasoning output when the model streams it")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt, err := chatPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	cfg, a, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if chatMCP {
		if err := autostartServers(ctx, cfg, a, logger); err != nil {
			return err
		}
	}

	messages := make([]stream.MessageInput, 0, 2)
	if chatSystem != "" {
		messages = append(messages, stream.MessageInput{Role: "system", Content: chatSystem})
	}
	messages = append(messages, stream.MessageInput{Role: "user", Content: prompt})
	opts := llm.Options{MaxTokens: chatMaxTokens}

	out := cmd.OutOrStdout()
	if chatNoStream {
		resp, err := a.SendMessage(ctx, app.ChatRequest{
			Model:       chatModel,
			Messages:    messages,
			Options:     opts,
			UseMCPTools: chatMCP,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp.Content)
		printToolCalls(cmd.ErrOrStderr(), resp.ToolCalls)
		return nil
	}

	return streamChat(ctx, cmd, a, app.StreamRequest{
		Request:     stream.Request{Model: chatModel, Messages: messages, Options: opts},
		UseMCPTools: chatMCP,
	})
}

func chatPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		if strings.TrimSpace(args[0]) == "" {
			return "", errors.New("prompt is empty")
		}
		return args[0], nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt given (pass it as an argument or on stdin)")
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}

// streamChat prints Chunk events for one stream until it ends. Events for
// other streams on the bus are skipped.
func streamChat(ctx context.Context, cmd *cobra.Command, a *app.App, req app.StreamRequest) error {
	sub := a.Events().Subscribe(512)
	defer a.Events().Unsubscribe(sub)

	id, err := a.StartStream(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	for {
		select {
		case <-ctx.Done():
			a.StopStream(id)
			fmt.Fprintln(out)
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return errors.New("event bus closed")
			}
			if ev.Name != events.NameStream {
				continue
			}
			p, ok := ev.Payload.(stream.Payload)
			if !ok || p.StreamID != id {
				continue
			}
			switch p.EventType {
			case stream.EventChunk:
				fmt.Fprint(out, p.Data["content"])
			case stream.EventReasoning:
				if chatReasoning {
					fmt.Fprint(errOut, mutedStyle.Render(fmt.Sprint(p.Data["content"])))
				}
			case stream.EventToolCall:
				if call, ok := p.Data["tool_call"].(stream.ToolCallData); ok {
					args, _ := json.Marshal(call.Arguments)
					fmt.Fprintf(errOut, "\n%s %s %s\n", warnStyle.Render("tool call"), boldStyle.Render(call.FnName), mutedStyle.Render(string(args)))
				}
			case stream.EventEnd:
				fmt.Fprintln(out)
				return nil
			case stream.EventError:
				fmt.Fprintln(out)
				return fmt.Errorf("stream failed: %v", p.Data["error"])
			}
		}
	}
}

func printToolCalls(w io.Writer, calls []llm.ToolCall) {
	for _, c := range calls {
		fmt.Fprintf(w, "%s %s %s\n", warnStyle.Render("tool call"), boldStyle.Render(c.Name), mutedStyle.Render(string(c.Arguments)))
	}
}
