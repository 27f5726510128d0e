package generation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/pkg/kie"
	"github.com/pixora/pixora-api/internal/pkg/response"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks. Deliveries are at-least-once
// and unauthenticated beyond the obscure URL, so the payload is treated as a
// hint and the task state is confirmed through the regular reconcile path.
type WebhookHandler struct {
	svc *Service
}

func NewWebhookHandler(svc *Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Handle processes POST /webhooks/provider. Unknown tasks and repeat
// deliveries are acknowledged with 200 so the provider stops retrying.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	taskID, hint := parseWebhookPayload(data)
	if taskID == "" {
		log.Warn().Msg("webhook without task id")
		response.BadRequest(w, "missing task id")
		return
	}

	g, err := h.svc.HandleWebhook(r.Context(), taskID, hint, body)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			// Task id we never issued, or a delivery that outlived its
			// generation. Ack so the provider stops retrying.
			log.Warn().Str("task_id", taskID).Msg("webhook for unknown task")
			response.OK(w, map[string]interface{}{"acknowledged": true})
			return
		}
		log.Error().Err(err).Str("task_id", taskID).Msg("webhook reconcile failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{
		"acknowledged": true,
		"status":       g.Status,
	})
}

// parseWebhookPayload pulls the task id and a status hint out of a callback
// body. The provider uses the same loose field naming as its status API, and
// some families wrap everything in data.
func parseWebhookPayload(data map[string]interface{}) (string, *Hint) {
	taskData := data
	if inner, ok := data["data"].(map[string]interface{}); ok {
		taskData = inner
	}

	taskID := kie.ExtractTaskID(taskData)
	if taskID == "" {
		taskID = kie.ExtractTaskID(data)
	}
	if taskID == "" {
		return "", nil
	}

	rawStatus := ""
	for _, key := range []string{"state", "status"} {
		if v, ok := taskData[key].(string); ok && v != "" {
			rawStatus = v
			break
		}
	}
	if rawStatus == "" {
		if v, ok := data["status"].(string); ok {
			rawStatus = v
		}
	}
	if rawStatus == "" {
		return taskID, nil
	}

	hint := &Hint{Status: kie.MapStatus(rawStatus)}

	if hint.Status == kie.StatusSucceeded {
		hint.OutputURL = kie.ExtractOutputURL(taskData)
	}
	if hint.Status == kie.StatusFailed {
		for _, key := range []string{"failMsg", "error", "error_message", "msg"} {
			if v, ok := taskData[key].(string); ok && v != "" {
				hint.Error = v
				break
			}
		}
	}

	return taskID, hint
}
