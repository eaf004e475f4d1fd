// Package agent implements the core agent loop.
//
// One call to Run is one user turn: the loop replays conversation
// history to the model, lets it invoke task tools as many times as it
// needs (bounded by MaxIterations), and returns the final reply plus
// a record of every tool call made along the way.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/llm"
	"github.com/taskmind/taskmind/internal/prompts"
	"github.com/taskmind/taskmind/internal/tools"
)

const defaultMaxIterations = 8

// ToolCallRecord captures one executed tool call for the API response.
type ToolCallRecord struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Result map[string]any `json:"result"`
}

// Result is the outcome of one agent turn.
type Result struct {
	Response  string           `json:"response"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	Err       string           `json:"error,omitempty"`
}

// Loop drives the model/tool conversation.
type Loop struct {
	logger        *slog.Logger
	llm           llm.Client
	registry      *tools.Registry
	model         string
	maxIterations int
	systemPrompt  string
}

// Option configures a Loop.
type Option func(*Loop)

// WithModel sets the model requested from the provider.
func WithModel(model string) Option {
	return func(l *Loop) { l.model = model }
}

// WithMaxIterations caps the number of model round-trips per turn.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// New creates an agent loop.
func New(logger *slog.Logger, client llm.Client, registry *tools.Registry, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger:        logger,
		llm:           client,
		registry:      registry,
		maxIterations: defaultMaxIterations,
		systemPrompt:  prompts.System,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one agent turn for the user. history is the prior
// conversation (user/assistant turns, chronological); message is the
// new user input.
//
// Tool failures are fed back to the model as results, not raised. A
// model or transport fault mid-turn returns an error only when no tool
// call has completed yet; once side effects exist, the partial trace
// is preserved and reported in Result.Err instead.
func (l *Loop) Run(ctx context.Context, userID string, history []llm.Message, message string) (*Result, error) {
	transcript := make([]llm.Message, 0, len(history)+2)
	transcript = append(transcript, llm.Message{Role: "system", Content: l.systemPrompt})
	transcript = append(transcript, history...)
	transcript = append(transcript, llm.Message{Role: "user", Content: message})

	definitions := l.registry.Definitions()
	var made []ToolCallRecord

	l.logger.Info("agent turn started",
		"user", userID,
		"history", len(history),
		"model", l.model,
	)

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		resp, err := l.llm.Chat(ctx, l.model, transcript, definitions)
		if err != nil {
			l.logger.Error("model call failed", "error", err, "iteration", iteration, "tool_calls", len(made))
			if len(made) == 0 {
				return nil, fmt.Errorf("model call: %w", err)
			}
			return &Result{
				Response:  fmt.Sprintf(prompts.ModelErrorTemplate, err),
				ToolCalls: made,
				Err:       err.Error(),
			}, nil
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			content := resp.Message.Content
			if content == "" {
				content = prompts.EmptyResponseFallback
			}
			l.logger.Info("agent turn completed",
				"user", userID,
				"iterations", iteration+1,
				"tool_calls", len(made),
			)
			return &Result{Response: content, ToolCalls: made}, nil
		}

		// Providers that omit call ids get synthesized ones so tool
		// results still correlate with their requests.
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
		}

		// Echo the assistant turn with its tool call requests so the
		// model sees its own reasoning on the next round-trip.
		transcript = append(transcript, llm.Message{
			Role:      "assistant",
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			name := call.Function.Name
			args := call.Function.Arguments

			l.logger.Debug("executing tool", "tool", name, "args", args)
			result := l.registry.Execute(ctx, userID, name, args)
			if errMsg, ok := result["error"]; ok {
				l.logger.Warn("tool returned error", "tool", name, "error", errMsg)
			}

			made = append(made, ToolCallRecord{Tool: name, Input: args, Result: result})

			transcript = append(transcript, llm.Message{
				Role:       "tool",
				Content:    encodeResult(result),
				ToolCallID: call.ID,
			})
		}
	}

	// The model kept asking for tools past the cap. Executed calls
	// stand; report what we have.
	l.logger.Warn("iteration cap reached", "user", userID, "tool_calls", len(made))
	return &Result{
		Response:  fmt.Sprintf(prompts.ModelErrorTemplate, "maximum tool iterations reached"),
		ToolCalls: made,
		Err:       "maximum tool iterations reached",
	}, nil
}

func encodeResult(result map[string]any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
