package upload

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type issueRequest struct {
	Kind        string `json:"kind" validate:"required,upload_kind"`
	ContentType string `json:"content_type" validate:"required"`
}

type issueResponse struct {
	ID        uuid.UUID `json:"id"`
	UploadURL string    `json:"upload_url"`
	Key       string    `json:"key"`
}

type confirmResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	PublicURL string    `json:"public_url"`
	SizeBytes int64     `json:"size_bytes"`
}

// Issue handles POST /api/v1/uploads
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	issued, err := h.svc.Issue(r.Context(), userID, Kind(req.Kind), req.ContentType)
	if err != nil {
		if errors.Is(err, ErrUnsupportedContentType) {
			response.BadRequest(w, "unsupported content type")
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, issueResponse{
		ID:        issued.Upload.ID,
		UploadURL: issued.UploadURL,
		Key:       issued.Upload.StorageKey,
	})
}

// Confirm handles POST /api/v1/uploads/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid upload id")
		return
	}

	u, err := h.svc.Confirm(r.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUploadNotFound):
			response.NotFound(w, "upload not found")
		case errors.Is(err, ErrObjectMissing):
			response.Conflict(w, "object has not been uploaded yet")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, confirmResponse{
		ID:        u.ID,
		Status:    u.Status,
		PublicURL: h.svc.PublicURL(u),
		SizeBytes: u.SizeBytes,
	})
}
