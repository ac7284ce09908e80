// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cortexka/assistant/services/assistant/datatypes"
)

func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
		streamCfg:  DefaultStreamConfig(),
	}
}

func TestDefaultStreamProcessor_ProcessChunk_ContentToken(t *testing.T) {
	t.Parallel()

	processor := NewDefaultStreamProcessor(DefaultStreamConfig(), nil)

	chunk := &ollamaStreamChunk{
		Message: datatypes.Message{Role: "assistant", Content: "Hello"},
		Done:    false,
	}

	var receivedEvent StreamEvent
	callback := func(event StreamEvent) error {
		receivedEvent = event
		return nil
	}

	done, err := processor.ProcessChunk(context.Background(), chunk, callback)
	if err != nil {
		t.Fatalf("ProcessChunk returned error: %v", err)
	}
	if done {
		t.Error("ProcessChunk returned done=true for non-final chunk")
	}
	if receivedEvent.Type != StreamEventToken {
		t.Errorf("Expected StreamEventToken, got %v", receivedEvent.Type)
	}
	if receivedEvent.Content != "Hello" {
		t.Errorf("Expected content 'Hello', got '%s'", receivedEvent.Content)
	}
	if processor.GetTokenCount() != 1 {
		t.Errorf("Expected token count 1, got %d", processor.GetTokenCount())
	}
	if processor.GetResponseLength() != 5 {
		t.Errorf("Expected response length 5, got %d", processor.GetResponseLength())
	}
}

func TestDefaultStreamProcessor_ProcessChunk_Thinking(t *testing.T) {
	t.Parallel()

	processor := NewDefaultStreamProcessor(DefaultStreamConfig(), nil)

	chunk := &ollamaStreamChunk{Thinking: "considering the context"}

	var receivedEvent StreamEvent
	done, err := processor.ProcessChunk(context.Background(), chunk, func(event StreamEvent) error {
		receivedEvent = event
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessChunk returned error: %v", err)
	}
	if done {
		t.Error("thinking chunk should not complete the stream")
	}
	if receivedEvent.Type != StreamEventThinking {
		t.Errorf("Expected StreamEventThinking, got %v", receivedEvent.Type)
	}
}

func TestDefaultStreamProcessor_ProcessChunk_RedactThinking(t *testing.T) {
	t.Parallel()

	cfg := DefaultStreamConfig()
	cfg.RedactThinking = true
	processor := NewDefaultStreamProcessor(cfg, nil)

	called := false
	_, err := processor.ProcessChunk(context.Background(),
		&ollamaStreamChunk{Thinking: "secret reasoning"},
		func(event StreamEvent) error {
			called = true
			return nil
		})
	if err != nil {
		t.Fatalf("ProcessChunk returned error: %v", err)
	}
	if called {
		t.Error("redacted thinking must not reach the callback")
	}
}

func TestDefaultStreamProcessor_ProcessChunk_BackendError(t *testing.T) {
	t.Parallel()

	processor := NewDefaultStreamProcessor(DefaultStreamConfig(), nil)

	var receivedEvent StreamEvent
	done, err := processor.ProcessChunk(context.Background(),
		&ollamaStreamChunk{Error: "model exploded"},
		func(event StreamEvent) error {
			receivedEvent = event
			return nil
		})
	if err == nil {
		t.Fatal("expected an error for a backend error chunk")
	}
	if !done {
		t.Error("a backend error terminates the stream")
	}
	if receivedEvent.Type != StreamEventError {
		t.Errorf("Expected StreamEventError, got %v", receivedEvent.Type)
	}
}

func TestDefaultStreamProcessor_MaxResponseLength(t *testing.T) {
	t.Parallel()

	cfg := DefaultStreamConfig()
	cfg.MaxResponseLength = 8
	processor := NewDefaultStreamProcessor(cfg, nil)

	ok := &ollamaStreamChunk{Message: datatypes.Message{Content: "12345678"}}
	if _, err := processor.ProcessChunk(context.Background(), ok, func(StreamEvent) error { return nil }); err != nil {
		t.Fatalf("chunk within bounds errored: %v", err)
	}

	over := &ollamaStreamChunk{Message: datatypes.Message{Content: "9"}}
	done, err := processor.ProcessChunk(context.Background(), over, func(StreamEvent) error { return nil })
	if err == nil {
		t.Fatal("expected error once the response bound is exceeded")
	}
	if !done {
		t.Error("exceeding the bound terminates the stream")
	}
}

func TestDefaultStreamConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultStreamConfig()
	if cfg.RedactThinking {
		t.Error("Default RedactThinking should be false")
	}
	if cfg.MaxThinkingLength != 0 {
		t.Errorf("Default MaxThinkingLength should be 0, got %d", cfg.MaxThinkingLength)
	}
	if cfg.RateLimitPerSecond != 0 {
		t.Errorf("Default RateLimitPerSecond should be 0, got %d", cfg.RateLimitPerSecond)
	}
	if cfg.MaxResponseLength != 100*1024 {
		t.Errorf("Default MaxResponseLength should be 102400, got %d", cfg.MaxResponseLength)
	}
}

func TestOllamaGenerateStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"message":{"role":"assistant","content":"Hola"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":" mundo"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	var tokens []string
	var sawDone bool
	err := client.GenerateStream(context.Background(), "hola", GenerationParams{}, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventToken:
			tokens = append(tokens, event.Content)
		case StreamEventDone:
			sawDone = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream returned error: %v", err)
	}
	if got := strings.Join(tokens, ""); got != "Hola mundo" {
		t.Errorf("Expected 'Hola mundo', got '%s'", got)
	}
	if !sawDone {
		t.Error("stream did not emit a done event")
	}
}

func TestOllamaGenerateStreamTruncated(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"partial"},"done":false}` + "\n"))
		// Connection ends without a done marker.
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	var sawError bool
	err := client.GenerateStream(context.Background(), "hola", GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventError {
			sawError = true
		}
		return nil
	})
	if err == nil {
		t.Fatal("a truncated stream must surface an error")
	}
	if !sawError {
		t.Error("a truncated stream must emit an error event")
	}
}

func TestCollectStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"todo"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":" junto"},"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	got, err := CollectStream(context.Background(), client, "hola", GenerationParams{})
	if err != nil {
		t.Fatalf("CollectStream returned error: %v", err)
	}
	if got != "todo junto" {
		t.Errorf("Expected 'todo junto', got '%s'", got)
	}
}
