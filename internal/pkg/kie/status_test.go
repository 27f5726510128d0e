package kie

import "testing"

func TestMapStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want TaskStatus
	}{
		{"queued", StatusQueued},
		{"QUEUED_FOR_PROCESSING", StatusQueued},
		{"pending", StatusQueued},
		{"waiting", StatusProcessing},
		{"processing", StatusProcessing},
		{"GENERATING", StatusProcessing},
		{"running", StatusProcessing},
		{"success", StatusSucceeded},
		{"succeeded", StatusSucceeded},
		{"COMPLETED", StatusSucceeded},
		{"done", StatusSucceeded},
		{"done_processing", StatusSucceeded},
		{"failed", StatusFailed},
		{"FAILURE", StatusFailed},
		{"internal_error", StatusFailed},
		{"", StatusProcessing},
		{"   ", StatusProcessing},
		{"floobaz", StatusProcessing},
	}

	for _, tc := range cases {
		if got := MapStatus(tc.raw); got != tc.want {
			t.Errorf("MapStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !StatusSucceeded.Terminal() || !StatusFailed.Terminal() {
		t.Error("succeeded and failed must be terminal")
	}
	if StatusQueued.Terminal() || StatusProcessing.Terminal() {
		t.Error("queued and processing must not be terminal")
	}
}
