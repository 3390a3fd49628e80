package llmclient

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/genesis-engine/ipgre/internal/errs"
)

// GeminiProvider implements Provider over Gemini, grounded on the teacher's
// internal/llm/provider/gemini.go request shape (system instruction plus a
// single user content turn) but built on the official google.golang.org/genai
// client rather than hand-rolled HTTP.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	limiter      *throttle
}

// NewGeminiProvider builds a provider against the Gemini API backend.
func NewGeminiProvider(ctx context.Context, apiKey, defaultModel string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.APIError("client_init", err, "failed to construct gemini client")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{client: client, defaultModel: defaultModel, limiter: newThrottle(2, 4)}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) model(opts CallOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.defaultModel
}

func (p *GeminiProvider) config(opts CallOptions, systemPrompt string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(opts.Temperature)),
		MaxOutputTokens: int32(opts.MaxTokens),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

func (p *GeminiProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (string, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return "", errs.Cancelled(err, "rate limiter wait interrupted")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model(opts), genai.Text(userPrompt), p.config(opts, systemPrompt))
	if err != nil {
		if isGeminiRateLimit(err) {
			time.Sleep(rateLimitRetryDelay)
			resp, err = p.client.Models.GenerateContent(ctx, p.model(opts), genai.Text(userPrompt), p.config(opts, systemPrompt))
			if err != nil {
				return "", errs.RateLimited("429", err, "gemini rate limit persisted after retry")
			}
		} else {
			return "", mapGeminiError(err)
		}
	}
	return resp.Text(), nil
}

func (p *GeminiProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions, cb StreamCallbacks) *StreamHandle {
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

		var full strings.Builder
		finishReason := ""
		attempted429Retry := false

		for {
			stream := p.client.Models.GenerateContentStream(streamCtx, p.model(opts), genai.Text(userPrompt), p.config(opts, systemPrompt))

			streamErr := error(nil)
			for resp, err := range stream {
				if err != nil {
					streamErr = err
					break
				}
				delta := normalizeDelta(resp.Text())
				if delta != "" {
					full.WriteString(delta)
					if cb.OnChunk != nil {
						cb.OnChunk(delta)
					}
				}
				if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
					finishReason = string(resp.Candidates[0].FinishReason)
				}
			}

			if streamErr != nil {
				if isGeminiRateLimit(streamErr) && !attempted429Retry {
					attempted429Retry = true
					time.Sleep(rateLimitRetryDelay)
					continue
				}
				if streamCtx.Err() != nil {
					if cb.OnError != nil {
						cb.OnError(errs.Cancelled(streamErr, "stream cancelled"))
					}
					return
				}
				if attempted429Retry {
					if cb.OnError != nil {
						cb.OnError(errs.RateLimited("429", streamErr, "gemini rate limit persisted after retry"))
					}
					return
				}
				if cb.OnError != nil {
					cb.OnError(mapGeminiError(streamErr))
				}
				return
			}
			break
		}

		if cb.OnDone != nil {
			cb.OnDone(full.String(), finishReason)
		}
	}()

	return handle
}

func isGeminiRateLimit(err error) bool {
	var apiErr genai.APIError
	if ok := asGenaiAPIError(err, &apiErr); ok {
		return apiErr.Code == 429
	}
	return strings.Contains(err.Error(), "RESOURCE_EXHAUSTED")
}

func asGenaiAPIError(err error, target *genai.APIError) bool {
	apiErr, ok := err.(genai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if asGenaiAPIError(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return errs.RateLimited("429", err, "gemini rate limited: %s", apiErr.Message)
		case apiErr.Code >= 500:
			return errs.APIError("server_error", err, "gemini server error: %s", apiErr.Message)
		default:
			return errs.APIError(apiErr.Status, err, "gemini error: %s", apiErr.Message)
		}
	}
	return errs.APIError("unknown", err, "gemini request failed: %v", err)
}
