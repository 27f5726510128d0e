package kie

import "strings"

// TaskStatus is the normalized provider task status.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusSucceeded  TaskStatus = "succeeded"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a terminal sink.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// MapStatus normalizes a raw provider status string. The provider vocabulary
// is not stable across API families, so matching is by substring. Queue
// keywords win first so "queued_for_processing" stays queued, then terminal
// keywords win over progress keywords so "done_processing" settles instead
// of polling forever. Unknown values map to processing so the task keeps
// getting polled instead of being misread as terminal.
func MapStatus(raw string) TaskStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusProcessing
	}

	switch {
	case strings.Contains(s, "queue") || strings.Contains(s, "pending"):
		return StatusQueued
	case strings.Contains(s, "success") || strings.Contains(s, "succeed") || strings.Contains(s, "complete") || strings.Contains(s, "done"):
		return StatusSucceeded
	case strings.Contains(s, "fail") || strings.Contains(s, "error"):
		return StatusFailed
	case strings.Contains(s, "process") || strings.Contains(s, "generating") || strings.Contains(s, "running"):
		return StatusProcessing
	default:
		return StatusProcessing
	}
}
