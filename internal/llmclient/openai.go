package llmclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/genesis-engine/ipgre/internal/errs"
)

// OpenAIProvider implements Provider over an OpenAI-compatible chat
// completions API, grounded on the teacher's internal/llm/provider/openai.go
// request/retry shape but built on the real SDK client instead of hand-rolled
// HTTP, per the DOMAIN STACK wiring.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	limiter      *throttle
}

// NewOpenAIProvider builds a provider against the public OpenAI API. Pass a
// non-empty baseURL to target an OpenAI-compatible gateway instead.
func NewOpenAIProvider(apiKey, baseURL, defaultModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		limiter:      newThrottle(2, 4),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(opts CallOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) messages(systemPrompt, userPrompt string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})
	return msgs
}

func (p *OpenAIProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (string, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return "", errs.Cancelled(err, "rate limiter wait interrupted")
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model(opts),
		Messages:    p.messages(systemPrompt, userPrompt),
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if retryErr, ok := asRateLimit(err); ok {
			time.Sleep(rateLimitRetryDelay)
			resp, err = p.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return "", errs.RateLimited("429", err, "openai rate limit persisted after retry: %v", retryErr)
			}
		} else {
			return "", mapOpenAIError(err)
		}
	}

	if len(resp.Choices) == 0 {
		return "", errs.APIError("empty_choices", nil, "openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions, cb StreamCallbacks) *StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &StreamHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)

		if err := p.limiter.wait(streamCtx); err != nil {
			if cb.OnError != nil {
				cb.OnError(errs.Cancelled(err, "rate limiter wait interrupted"))
			}
			return
		}

		req := openai.ChatCompletionRequest{
			Model:       p.model(opts),
			Messages:    p.messages(systemPrompt, userPrompt),
			MaxTokens:   opts.MaxTokens,
			Temperature: float32(opts.Temperature),
			Stream:      true,
		}

		stream, err := p.client.CreateChatCompletionStream(streamCtx, req)
		if err != nil {
			if retryErr, ok := asRateLimit(err); ok {
				time.Sleep(rateLimitRetryDelay)
				stream, err = p.client.CreateChatCompletionStream(streamCtx, req)
				if err != nil {
					if cb.OnError != nil {
						cb.OnError(errs.RateLimited("429", err, "openai rate limit persisted after retry: %v", retryErr))
					}
					return
				}
			} else {
				if cb.OnError != nil {
					cb.OnError(mapOpenAIError(err))
				}
				return
			}
		}
		defer stream.Close()

		var full strings.Builder
		finishReason := ""
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if errors.Is(streamCtx.Err(), context.Canceled) {
					if cb.OnError != nil {
						cb.OnError(errs.Cancelled(err, "stream cancelled"))
					}
					return
				}
				if cb.OnError != nil {
					cb.OnError(mapOpenAIError(err))
				}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := normalizeDelta(chunk.Choices[0].Delta.Content)
			if delta != "" {
				full.WriteString(delta)
				if cb.OnChunk != nil {
					cb.OnChunk(delta)
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				finishReason = string(chunk.Choices[0].FinishReason)
			}
		}

		if cb.OnDone != nil {
			cb.OnDone(full.String(), finishReason)
		}
	}()

	return handle
}

func asRateLimit(err error) (*openai.APIError, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return apiErr, true
	}
	return nil, false
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errs.RateLimited("429", err, "openai rate limited: %s", apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return errs.APIError("server_error", err, "openai server error: %s", apiErr.Message)
		default:
			return errs.APIError(apiErr.Code, err, "openai error: %s", apiErr.Message)
		}
	}
	return errs.APIError("unknown", err, "openai request failed: %v", err)
}
