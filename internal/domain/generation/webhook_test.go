package generation

import (
	"encoding/json"
	"testing"

	"github.com/pixora/pixora-api/internal/pkg/kie"
)

func TestParseWebhookPayload(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantTask   string
		wantStatus kie.TaskStatus
		wantOutput string
	}{
		{
			name:       "market wrapped success",
			body:       `{"code":200,"data":{"taskId":"task-9","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn.kie.ai/a.png\"]}"}}`,
			wantTask:   "task-9",
			wantStatus: kie.StatusSucceeded,
			wantOutput: "https://cdn.kie.ai/a.png",
		},
		{
			name:       "flat failure",
			body:       `{"task_id":"task-3","status":"failed","error":"nsfw content"}`,
			wantTask:   "task-3",
			wantStatus: kie.StatusFailed,
		},
		{
			name:       "progress only",
			body:       `{"data":{"id":"task-5","state":"generating"}}`,
			wantTask:   "task-5",
			wantStatus: kie.StatusProcessing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(tc.body), &data); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			taskID, hint := parseWebhookPayload(data)
			if taskID != tc.wantTask {
				t.Fatalf("task id = %q, want %q", taskID, tc.wantTask)
			}
			if hint == nil {
				t.Fatal("expected a hint")
			}
			if hint.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", hint.Status, tc.wantStatus)
			}
			if hint.OutputURL != tc.wantOutput {
				t.Errorf("output = %q, want %q", hint.OutputURL, tc.wantOutput)
			}
		})
	}
}

func TestParseWebhookPayloadNoTask(t *testing.T) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(`{"status":"success"}`), &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	taskID, _ := parseWebhookPayload(data)
	if taskID != "" {
		t.Fatalf("expected empty task id, got %q", taskID)
	}
}
