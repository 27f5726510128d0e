package kie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:       serverURL,
		APIKey:        "test-key",
		CreateTimeout: 2 * time.Second,
		StatusTimeout: 2 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCreateTaskSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/api/v1/jobs/createTask" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "seedream-v4-text-to-image" {
			t.Errorf("model not at top level: %v", body["model"])
		}
		input, ok := body["input"].(map[string]interface{})
		if !ok || input["prompt"] != "a cat" {
			t.Errorf("prompt not under input: %v", body["input"])
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"data": map[string]interface{}{"taskId": "task-123"},
		})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	res, err := client.CreateTask(context.Background(), "seedream-v4-text-to-image",
		map[string]interface{}{"prompt": "a cat"}, "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if res.TaskID != "task-123" {
		t.Errorf("task id = %q, want task-123", res.TaskID)
	}
	if res.Status != StatusQueued {
		t.Errorf("status = %q, want queued", res.Status)
	}
}

func TestCreateTaskSoftErrorIsModelRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 with an error code in the body.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 422,
			"msg":  "model not supported",
			"data": nil,
		})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.CreateTask(context.Background(), "bogus-model",
		map[string]interface{}{"prompt": "a cat"}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsModelRejected(err) {
		t.Fatalf("expected model rejection, got %v", err)
	}
	if IsTransient(err) {
		t.Fatal("model rejection must not be retryable")
	}
}

func TestCreateTaskServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"msg":"upstream unavailable"}`))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.CreateTask(context.Background(), "seedream-v4-text-to-image",
		map[string]interface{}{"prompt": "a cat"}, "")
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCreateTaskTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	client.createTimeout = 50 * time.Millisecond

	_, err := client.CreateTask(context.Background(), "seedream-v4-text-to-image",
		map[string]interface{}{"prompt": "a cat"}, "")
	if !IsTransient(err) {
		t.Fatalf("expected transient timeout error, got %v", err)
	}
}

func TestGetTaskStatusResultJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("taskId") != "task-123" {
			t.Errorf("taskId query param = %q", r.URL.Query().Get("taskId"))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"data": map[string]interface{}{
				"state":      "SUCCESS",
				"resultJson": `{"resultUrls":["https://cdn.kie.ai/out.png"]}`,
			},
		})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	res, err := client.GetTaskStatus(context.Background(), "task-123", "")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if res.Status != StatusSucceeded {
		t.Errorf("status = %q, want succeeded", res.Status)
	}
	if res.OutputURL != "https://cdn.kie.ai/out.png" {
		t.Errorf("output url = %q", res.OutputURL)
	}
	if len(res.Raw) == 0 {
		t.Error("raw response must be preserved")
	}
}

func TestGetTaskStatusFailureFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"data": map[string]interface{}{
				"state":   "GENERATE_FAILED",
				"failMsg": "content policy violation",
			},
		})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	res, err := client.GetTaskStatus(context.Background(), "task-123", "")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
	if res.Error != "content policy violation" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestGetTaskStatusHTMLResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>404</body></html>"))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.GetTaskStatus(context.Background(), "task-123", "")
	if err == nil {
		t.Fatal("expected error for HTML response")
	}
	if IsTransient(err) {
		t.Fatal("misrouted endpoint must not be retried")
	}
}

func TestSanitizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "https://api.kie.ai"},
		{"https://api.kie.ai", "https://api.kie.ai"},
		{"https://api.kie.ai/", "https://api.kie.ai"},
		{"https://api.kie.ai/docs/market", "https://api.kie.ai"},
		{"https://kie.ai", "https://api.kie.ai"},
		{"https://kie.ai/api-key", "https://api.kie.ai"},
		{"https://custom-proxy.example.com/v2", "https://custom-proxy.example.com"},
	}

	for _, tc := range cases {
		if got := SanitizeBaseURL(tc.in); got != tc.want {
			t.Errorf("SanitizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
