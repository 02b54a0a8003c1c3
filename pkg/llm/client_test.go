package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"byggassistent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	chunks []string
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func newClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL,
		Model:          "gpt-4o-mini",
		TimeoutSeconds: 5,
		Generation:     config.LLMGenerationConfig{Temperature: 0.2},
	})
}

func TestChatMessages(t *testing.T) {
	var got chatRequest
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Minst 0,9 m."}}]}`)
	})

	answer, err := client.ChatMessages(context.Background(), []Message{
		{Role: "system", Content: "Svar kort."},
		{Role: "user", Content: "Hvor bred må en rømningsvei være?"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Minst 0,9 m.", answer)
	assert.False(t, got.Stream)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.2, *got.Temperature)
	assert.Len(t, got.Messages, 2)
}

func TestChatMessages_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":"rate_limit_exceeded"}}`, ErrQuotaExceeded},
		{"insufficient quota", http.StatusForbidden, `{"error":{"code":"insufficient_quota"}}`, ErrQuotaExceeded},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := client.ChatMessages(context.Background(), []Message{{Role: "user", Content: "hei"}}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestChatMessages_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	client := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.ChatMessages(ctx, []Message{{Role: "user", Content: "hei"}}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStreamChatMessages(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Minst "}}]}`,
			`data: {"choices":[{"delta":{"content":"0,9 m."}}]}`,
			`data: not-json`,
			`data: [DONE]`,
		}
		fmt.Fprint(w, strings.Join(lines, "\n")+"\n")
	})

	writer := &recordingWriter{}
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hei"}}, nil, writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"Minst ", "0,9 m."}, writer.chunks)
}

func TestStreamChatMessages_StalledProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Minst "}}]}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(4 * time.Second):
		}
	}))
	defer srv.Close()
	client := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m", TimeoutSeconds: 1})

	writer := &recordingWriter{}
	start := time.Now()
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hei"}}, nil, writer)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, []string{"Minst "}, writer.chunks)
}

func TestStreamChatMessages_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()
	client := NewClient(config.LLMConfig{BaseURL: srv.URL, Model: "m", TimeoutSeconds: 30})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	err := client.StreamChatMessages(ctx, []Message{{Role: "user", Content: "hei"}}, nil, &recordingWriter{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamChatMessages_ClosedBeforeDone(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Minst "}}]}`+"\n")
	})

	writer := &recordingWriter{}
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hei"}}, nil, writer)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, []string{"Minst "}, writer.chunks)
}
