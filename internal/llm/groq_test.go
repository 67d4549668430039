package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nutriflow/internal/config"
)

func newTestGroqClient(url string) *groqClient {
	c := NewGroqClient(&config.Config{GroqAPIKey: "test-key"}).(*groqClient)
	c.endpoint = url
	c.httpClient = &http.Client{Timeout: 2 * time.Second}
	return c
}

func TestGroqGenerateContent(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header %q", got)
			}
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("bad request body: %v", err)
			}
			format, _ := body["response_format"].(map[string]interface{})
			if format["type"] != "json_object" {
				t.Errorf("expected json_object response format, got %v", body["response_format"])
			}
			w.Write([]byte(`{"model":"llama-test","choices":[{"message":{"content":"{\"title\":\"Soup\"}"}}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`))
		}))
		defer ts.Close()

		resp, err := newTestGroqClient(ts.URL).GenerateContent(context.Background(), "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != `{"title":"Soup"}` {
			t.Errorf("unexpected content %q", resp.Content)
		}
		if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 8 || resp.Usage.Model != "llama-test" {
			t.Errorf("unexpected usage %+v", resp.Usage)
		}
	})

	t.Run("APIError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer ts.Close()

		if _, err := newTestGroqClient(ts.URL).GenerateContent(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for non-200 status")
		}
	})

	t.Run("NoChoices", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer ts.Close()

		if _, err := newTestGroqClient(ts.URL).GenerateContent(context.Background(), "hello"); err == nil {
			t.Fatal("expected error when no choices are returned")
		}
	})
}
