package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/groqchat/internal/config"
	"github.com/comigor/groqchat/internal/logger"
)

// NewClient creates an OpenAI-compatible client pointed at the configured base URL.
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// Completer turns a message list into a single reply using a streamed completion.
type Completer struct {
	client Client
	cfg    config.LLMConfig
}

// NewCompleter binds a client to the generation parameters in cfg.
func NewCompleter(client Client, cfg config.LLMConfig) *Completer {
	return &Completer{client: client, cfg: cfg}
}

// Request builds the completion request sent for messages.
func (c *Completer) Request(messages []openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Stream:      true,
	}
}

// Complete streams a completion for messages and returns the concatenated,
// whitespace-trimmed reply. Nothing is returned until the stream ends.
func (c *Completer) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.Request(messages))
	if err != nil {
		return "", fmt.Errorf("creating completion stream: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	chunks := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receiving completion chunk: %w", err)
		}
		if len(resp.Choices) > 0 {
			reply.WriteString(resp.Choices[0].Delta.Content)
		}
		chunks++
	}

	logger.L.Debug("completion stream finished", "model", c.cfg.Model, "chunks", chunks, "length", reply.Len())
	return strings.TrimSpace(reply.String()), nil
}
