// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
)

func chunkJSON(content, finish string) string {
	delta := map[string]any{}
	if content != "" {
		delta["content"] = content
	}
	var reason any
	if finish != "" {
		reason = finish
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1700000000,
		"model":   "local",
		"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": reason}},
	})
	return string(b)
}

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v1", Model: "local"})
}

func TestClient_Stream(t *testing.T) {
	received := make(chan map[string]any, 1)
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("", ""))
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("Hel", ""))
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("lo", ""))
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("", "stop"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), llm.Request{
		Messages: []model.Message{model.NewSystemMessage("sys"), model.NewUserMessage("hi")},
		Params:   llm.DefaultParams().WithMaxTokens(128),
	})
	require.NoError(t, err)
	defer stream.Close()

	var text string
	var last llm.Delta
	for {
		d, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text += d.Content
		last = d
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.FinishReason)

	body := <-received
	assert.Equal(t, "local", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.EqualValues(t, 128, body["max_tokens"])
	assert.EqualValues(t, 1.17, body["repeat_penalty"])
	assert.EqualValues(t, 2, body["mirostat"])
	assert.EqualValues(t, 0.5, body["temperature"])
	assert.Len(t, body["stop"], len(llm.DefaultStop))
	assert.Len(t, body["messages"], 2)
}

func TestClient_StreamOmitsZeroMaxTokens(t *testing.T) {
	received := make(chan map[string]any, 1)
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), llm.Request{Params: llm.DefaultParams()})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)

	body := <-received
	_, ok := body["max_tokens"]
	assert.False(t, ok)
}

func TestClient_ContextExceeded(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"the request exceeds the available context size, try increasing it","type":"exceed_context_size_error"}}`)
	})

	stream, err := client.Stream(context.Background(), llm.Request{Params: llm.DefaultParams()})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.Error(t, err)
	assert.True(t, llm.IsContextExceeded(err))

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClient_ServerError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"code":500,"message":"model crashed","type":"server_error"}}`)
	})

	stream, err := client.Stream(context.Background(), llm.Request{Params: llm.DefaultParams()})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.Error(t, err)
	assert.False(t, llm.IsContextExceeded(err))
	assert.Contains(t, err.Error(), "500")
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultModel, c.model)
	assert.Equal(t, "llamacpp", c.Name())
}
