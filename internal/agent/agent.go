// Package agent implements the question-answering loop: it persists
// the user's message, calls the LLM with the tool declarations, runs
// any requested tools, and iterates until the model produces a plain
// text answer or the iteration budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/qna-agent/internal/llm"
	"github.com/nugget/qna-agent/internal/store"
	"github.com/nugget/qna-agent/internal/tools"
)

// DefaultMaxIterations bounds LLM calls per processed message. Retries
// of a single rate-limited call do not count against it.
const DefaultMaxIterations = 5

// exhaustedReply is persisted as the assistant's answer when the loop
// runs out of iterations without a text response.
const exhaustedReply = "I apologize, but I was unable to complete your request. Please try again."

const systemPrompt = `You are a helpful assistant that answers questions using the knowledge base.

When users ask questions, use the search_knowledge_base tool to find relevant information.
Always base your answers on the information found in the knowledge base.
If you cannot find relevant information, say so honestly.

Be concise and helpful in your responses.`

// Service runs the agent loop over a conversation store.
type Service struct {
	logger  *slog.Logger
	store   *store.Store
	llm     llm.Client
	tools   *tools.Registry
	retry   llm.RetryPolicy
	maxIter int
}

// New creates an agent service. maxIter <= 0 selects
// [DefaultMaxIterations].
func New(logger *slog.Logger, st *store.Store, client llm.Client, reg *tools.Registry, retry llm.RetryPolicy, maxIter int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Service{
		logger:  logger,
		store:   st,
		llm:     client,
		tools:   reg,
		retry:   retry,
		maxIter: maxIter,
	}
}

// ProcessMessage runs one full agent turn for a conversation: the user
// message is persisted first, then the loop calls the LLM and executes
// requested tools until the model answers in plain text. It returns
// the persisted user message and the persisted final assistant
// message.
//
// Returns [store.ErrNotFound] before persisting anything when the
// conversation does not exist. A failure after the user message is
// persisted leaves it in place; there is no rollback.
func (s *Service) ProcessMessage(ctx context.Context, conversationID, content string) (*store.Message, *store.Message, error) {
	if _, err := s.store.GetConversation(conversationID); err != nil {
		return nil, nil, err
	}

	userMsg, err := s.store.AppendMessage(conversationID, store.RoleUser, llm.StringPtr(content), nil, "")
	if err != nil {
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	messages, err := s.buildContext(conversationID)
	if err != nil {
		return userMsg, nil, err
	}

	start := time.Now()
	toolDefs := s.tools.List()

	for i := range s.maxIter {
		if err := ctx.Err(); err != nil {
			return userMsg, nil, err
		}

		s.logger.Info("agent llm call",
			"conversation_id", conversationID,
			"iter", i,
			"msgs", len(messages),
		)

		resp, err := s.retry.Do(ctx, s.logger, func(ctx context.Context) (*llm.ChatResponse, error) {
			return s.llm.Chat(ctx, messages, toolDefs)
		})
		if err != nil {
			return userMsg, nil, fmt.Errorf("llm call failed (iter %d): %w", i, err)
		}

		s.logger.Info("agent llm response",
			"conversation_id", conversationID,
			"iter", i,
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"tool_calls", len(resp.Message.ToolCalls),
		)

		// No tool calls — this is the final answer.
		if len(resp.Message.ToolCalls) == 0 {
			final, err := s.store.AppendMessage(conversationID, store.RoleAssistant, llm.StringPtr(resp.Text()), nil, "")
			if err != nil {
				return userMsg, nil, fmt.Errorf("persist assistant message: %w", err)
			}
			if err := s.store.Touch(conversationID); err != nil {
				s.logger.Warn("failed to touch conversation",
					"conversation_id", conversationID,
					"error", err,
				)
			}
			s.logger.Info("agent completed",
				"conversation_id", conversationID,
				"iterations", i+1,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return userMsg, final, nil
		}

		// Persist the assistant turn with its tool calls, then run
		// each tool in the order the model requested.
		if _, err := s.store.AppendMessage(conversationID, store.RoleAssistant, resp.Message.Content, resp.Message.ToolCalls, ""); err != nil {
			return userMsg, nil, fmt.Errorf("persist tool-call message: %w", err)
		}
		messages = append(messages, resp.Message)

		for _, tc := range resp.Message.ToolCalls {
			result := s.executeTool(ctx, conversationID, tc)

			if _, err := s.store.AppendMessage(conversationID, store.RoleTool, llm.StringPtr(result), nil, tc.ID); err != nil {
				return userMsg, nil, fmt.Errorf("persist tool result: %w", err)
			}
			messages = append(messages, llm.Message{
				Role:       store.RoleTool,
				Content:    llm.StringPtr(result),
				ToolCallID: tc.ID,
			})
		}
	}

	// Iteration budget spent without a text answer.
	s.logger.Warn("agent max iterations reached",
		"conversation_id", conversationID,
		"max_iter", s.maxIter,
	)
	final, err := s.store.AppendMessage(conversationID, store.RoleAssistant, llm.StringPtr(exhaustedReply), nil, "")
	if err != nil {
		return userMsg, nil, fmt.Errorf("persist exhaustion message: %w", err)
	}
	if err := s.store.Touch(conversationID); err != nil {
		s.logger.Warn("failed to touch conversation",
			"conversation_id", conversationID,
			"error", err,
		)
	}
	return userMsg, final, nil
}

// executeTool runs one tool call and converts every failure into a
// textual result so the model can see what went wrong. Unknown tool
// names are reported verbatim rather than failing the run.
func (s *Service) executeTool(ctx context.Context, conversationID string, tc llm.ToolCall) string {
	start := time.Now()

	s.logger.Info("agent tool exec",
		"conversation_id", conversationID,
		"tool", tc.Function.Name,
	)

	result, err := s.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		result = "Unknown tool: " + tc.Function.Name
	case err != nil:
		result = "Error: " + err.Error()
		s.logger.Error("agent tool exec failed",
			"conversation_id", conversationID,
			"tool", tc.Function.Name,
			"error", err,
		)
	default:
		s.logger.Debug("agent tool exec done",
			"conversation_id", conversationID,
			"tool", tc.Function.Name,
			"result_len", len(result),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return result
}

// buildContext maps the stored conversation history into the prompt
// for the LLM, starting with the system turn. Assistant turns keep
// their tool calls; tool turns keep their tool_call_id.
func (s *Service) buildContext(conversationID string) ([]llm.Message, error) {
	history, err := s.store.Messages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: llm.StringPtr(systemPrompt),
	})

	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			messages = append(messages, llm.Message{
				Role:    store.RoleUser,
				Content: llm.StringPtr(textOf(m.Content)),
			})
		case store.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				// Content stays nullable here: some providers send
				// tool calls with no text at all.
				messages = append(messages, llm.Message{
					Role:      store.RoleAssistant,
					Content:   m.Content,
					ToolCalls: m.ToolCalls,
				})
			} else {
				messages = append(messages, llm.Message{
					Role:    store.RoleAssistant,
					Content: llm.StringPtr(textOf(m.Content)),
				})
			}
		case store.RoleTool:
			messages = append(messages, llm.Message{
				Role:       store.RoleTool,
				Content:    llm.StringPtr(textOf(m.Content)),
				ToolCallID: m.ToolCallID,
			})
		}
	}

	return messages, nil
}

func textOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
