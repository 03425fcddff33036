// Package genai provides GenAI-enhanced operations using OpenAI API.

package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// Generation parameter defaults for persona replies.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4o
	// DefaultTemperature keeps replies lively without losing coherence.
	DefaultTemperature = 0.8
	// DefaultMaxTokens bounds the length of a single persona reply.
	DefaultMaxTokens = 500
)

// ErrNoChoicesReturned indicates the API response carried no completion choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ClientInterface defines the generation operations used by the
// conversation engine, so tests can substitute a mock responder.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(string)) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
	CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk]
}

// openaiChatService adapts the OpenAI SDK client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

func (s *openaiChatService) CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	return s.client.Chat.Completions.NewStreaming(ctx, params)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey is the OpenAI API key; falls back to OPENAI_API_KEY.
	APIKey string
	// Model overrides the default chat model.
	Model openai.ChatModel
}

// Option defines a functional option for GenAI client configuration.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for generation.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI ChatCompletion service for generating persona replies.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient initializes a new GenAI client. The API key comes from options
// or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	slog.Debug("GenAI.NewClient: client configured", "model", model)

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: &openaiChatService{client: cli}, model: model}, nil
}

// newParams assembles completion parameters for a prepared message list.
func (c *Client) newParams(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(DefaultTemperature),
		MaxTokens:   openai.Int(DefaultMaxTokens),
	}
}

// GenerateWithMessages generates one reply for a fully assembled message
// list (system prompt, history window, and current user message).
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.chat.Create(ctx, c.newParams(messages))
	if err != nil {
		slog.Error("GenAI.GenerateWithMessages: completion failed", "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("GenAI.GenerateWithMessages: completion succeeded", "messages", len(messages))
	return resp.Choices[0].Message.Content, nil
}

// GenerateStreamWithMessages generates one reply as a token stream,
// invoking onDelta for each content fragment, and returns the full
// accumulated reply text.
func (c *Client) GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(string)) (string, error) {
	stream := c.chat.CreateStreaming(ctx, c.newParams(messages))
	defer stream.Close()

	var reply string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply += delta
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("GenAI.GenerateStreamWithMessages: stream failed", "error", err, "accumulated", len(reply))
		// Return what arrived so the caller can persist a partial reply.
		return reply, err
	}
	slog.Debug("GenAI.GenerateStreamWithMessages: stream succeeded", "length", len(reply))
	return reply, nil
}
