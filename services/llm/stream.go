// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexka/assistant/services/assistant/datatypes"
	"golang.org/x/time/rate"
)

// StreamEventType discriminates the events a streaming backend emits.
type StreamEventType string

const (
	// StreamEventToken carries one answer fragment.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking carries reasoning text from models that expose
	// it. Downstream consumers may redact it.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventDone terminates a successful stream.
	StreamEventDone StreamEventType = "done"

	// StreamEventError terminates a failed stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one event in a generation stream.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in order. Returning an error aborts
// the stream; the backend stops reading and the error propagates to the
// GenerateStream caller.
type StreamCallback func(event StreamEvent) error

// StreamConfig bounds stream processing.
type StreamConfig struct {
	// RedactThinking drops thinking events instead of forwarding them.
	RedactThinking bool

	// MaxThinkingLength truncates forwarded thinking text. Zero means
	// unlimited.
	MaxThinkingLength int

	// RateLimitPerSecond bounds forwarded events. Zero means unlimited.
	RateLimitPerSecond int

	// MaxResponseLength aborts streams whose accumulated answer exceeds
	// it, protecting the accumulator from runaway generations.
	MaxResponseLength int
}

// DefaultStreamConfig returns the production stream bounds.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:     false,
		MaxThinkingLength:  0,
		RateLimitPerSecond: 0,
		MaxResponseLength:  100 * 1024,
	}
}

// ollamaStreamChunk is one NDJSON line of an Ollama streaming response.
type ollamaStreamChunk struct {
	Message   datatypes.Message `json:"message"`
	Thinking  string            `json:"thinking,omitempty"`
	Done      bool              `json:"done"`
	Error     string            `json:"error,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
}

// DefaultStreamProcessor converts backend chunks into StreamEvents while
// enforcing the configured bounds. One processor serves one stream; it is
// not safe for concurrent use.
type DefaultStreamProcessor struct {
	cfg            StreamConfig
	limiter        *rate.Limiter
	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor for one stream. The second
// argument is reserved for a metrics hook and may be nil.
func NewDefaultStreamProcessor(cfg StreamConfig, _ interface{ RecordToken() }) *DefaultStreamProcessor {
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = DefaultStreamConfig().MaxResponseLength
	}
	p := &DefaultStreamProcessor{cfg: cfg}
	if cfg.RateLimitPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
	}
	return p
}

// ProcessChunk handles one backend chunk.
//
// # Outputs
//
//   - bool: True when the stream is complete and no more chunks follow.
//   - error: Non-nil when the chunk carried a backend error, a bound was
//     exceeded, or the callback rejected the event.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if chunk.Error != "" {
		_ = callback(StreamEvent{Type: StreamEventError, Error: chunk.Error})
		return true, fmt.Errorf("backend stream error: %s", chunk.Error)
	}

	if chunk.Thinking != "" && !p.cfg.RedactThinking {
		thinking := chunk.Thinking
		if p.cfg.MaxThinkingLength > 0 {
			remaining := p.cfg.MaxThinkingLength - p.thinkingLength
			if remaining <= 0 {
				thinking = ""
			} else if len(thinking) > remaining {
				thinking = thinking[:remaining]
			}
		}
		if thinking != "" {
			p.thinkingLength += len(thinking)
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: thinking}); err != nil {
				return false, err
			}
		}
	}

	if content := chunk.Message.Content; content != "" {
		p.responseLength += len(content)
		if p.responseLength > p.cfg.MaxResponseLength {
			err := fmt.Errorf("response exceeded maximum length of %d bytes", p.cfg.MaxResponseLength)
			_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
			return true, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		p.tokenCount++
		if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
			return false, err
		}
	}

	if chunk.Done {
		if err := callback(StreamEvent{Type: StreamEventDone}); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// GetTokenCount returns the number of token events emitted so far.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	return p.tokenCount
}

// GetResponseLength returns the accumulated answer length in bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	return p.responseLength
}

// CollectStream is a convenience adapter that runs a streaming call and
// returns the concatenated answer, for callers that need the streaming
// backend but a blocking result.
func CollectStream(ctx context.Context, client StreamingLLMClient, prompt string, params GenerationParams) (string, error) {
	var b strings.Builder
	err := client.GenerateStream(ctx, prompt, params, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			b.WriteString(event.Content)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
