package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanwahyu/certimed/internal/domain/reports"
	"github.com/bryanwahyu/certimed/internal/domain/summarization"
)

const validContent = `{"synopsis":"Blood test shows mild anemia.","terms":[{"term":"Hemoglobin","explanation":"Protein that carries oxygen."}]}`

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func newTestClient(t *testing.T, maxRetries int, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	}, nil)
	c.sleep = func(time.Duration) {} // no backoff in tests
	return c
}

func extracted() reports.ExtractedText {
	return reports.ExtractedText{Text: "Hemoglobin 10.2 g/dL, below normal.", Pages: 1, Method: "image-ocr"}
}

func TestSummarizeOK(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(chatResponse(validContent))
	})

	sum, err := c.Summarize(context.Background(), extracted())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Synopsis == "" || len(sum.Terms) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Terms[0].Term != "Hemoglobin" {
		t.Fatalf("term = %q", sum.Terms[0].Term)
	}
}

func TestSummarizeRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "rate limit exceeded", "type": "requests"},
			})
			return
		}
		json.NewEncoder(w).Encode(chatResponse(validContent))
	})

	sum, err := c.Summarize(context.Background(), extracted())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if sum.Synopsis == "" {
		t.Fatal("empty synopsis after retry")
	}
}

func TestSummarizeMalformedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, 3, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Valid JSON, wrong shape: missing synopsis.
		json.NewEncoder(w).Encode(chatResponse(`{"terms":[]}`))
	})

	_, err := c.Summarize(context.Background(), extracted())
	var suErr *summarization.Error
	if !errors.As(err, &suErr) || suErr.Reason != summarization.ReasonMalformedResponse {
		t.Fatalf("err = %v, want malformed_response", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (malformed must not retry)", got)
	}
}

func TestSummarizeDuplicateTermsRejected(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(
			`{"synopsis":"ok","terms":[{"term":"Anemia","explanation":"a"},{"term":"anemia","explanation":"b"}]}`))
	})

	_, err := c.Summarize(context.Background(), extracted())
	var suErr *summarization.Error
	if !errors.As(err, &suErr) || suErr.Reason != summarization.ReasonMalformedResponse {
		t.Fatalf("err = %v, want malformed_response for duplicate terms", err)
	}
}

func TestSummarizeServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, 1, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "upstream down", "type": "server_error"},
		})
	})

	_, err := c.Summarize(context.Background(), extracted())
	var suErr *summarization.Error
	if !errors.As(err, &suErr) || suErr.Reason != summarization.ReasonServiceUnavailable {
		t.Fatalf("err = %v, want service_unavailable", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2 (initial + 1 retry)", got)
	}
}

func TestSchemaValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"valid", validContent, true},
		{"empty terms allowed", `{"synopsis":"ok","terms":[]}`, true},
		{"missing synopsis", `{"terms":[]}`, false},
		{"missing terms", `{"synopsis":"ok"}`, false},
		{"empty term string", `{"synopsis":"ok","terms":[{"term":"","explanation":"x"}]}`, false},
		{"extra top-level field", `{"synopsis":"ok","terms":[],"extra":1}`, false},
		{"terms not array", `{"synopsis":"ok","terms":"none"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAgainstSchema(summarySchema(), []byte(tc.payload))
			if tc.ok && err != nil {
				t.Fatalf("want valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("want validation error, got nil")
			}
		})
	}
}
