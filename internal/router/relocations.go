package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/libops/relocation/internal/orchestrator"
	"github.com/libops/relocation/internal/relocation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	// Form fields beyond this stay on disk while parsing.
	multipartMemory = 32 << 20
)

type handlers struct {
	relocations    Relocations
	maxUploadBytes int64
}

// relocationView is the JSON shape of a relocation.
type relocationView struct {
	UUID               string    `json:"uuid"`
	CreatorID          int64     `json:"creator_id"`
	OwnerID            int64     `json:"owner_id"`
	WantOrgSlugs       []string  `json:"want_org_slugs"`
	WantUsernames      []string  `json:"want_usernames,omitempty"`
	Step               string    `json:"step"`
	Status             string    `json:"status"`
	LatestTask         string    `json:"latest_task"`
	LatestTaskAttempts int       `json:"latest_task_attempts"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toView(r *relocation.Relocation) relocationView {
	return relocationView{
		UUID:               r.UUID.String(),
		CreatorID:          r.CreatorID,
		OwnerID:            r.OwnerID,
		WantOrgSlugs:       r.WantOrgSlugs,
		WantUsernames:      r.WantUsernames,
		Step:               string(r.Step),
		Status:             string(r.Status),
		LatestTask:         r.LatestTask.String(),
		LatestTaskAttempts: r.LatestTaskAttempts,
		FailureReason:      r.FailureReason,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) publicKey(w http.ResponseWriter, r *http.Request) {
	pem, err := h.relocations.PublicKey(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to fetch public key", "error", err)
		writeError(w, http.StatusBadGateway, "public key unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(pem)
}

// upload accepts a multipart form with the encrypted export in "file",
// the organization slugs in "orgs" (repeated or comma separated) and the
// "owner_id" and "creator_id" of the relocation.
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "export exceeds the upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "export exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}

	ownerID, err := formID(r, "owner_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	creatorID, err := formID(r, "creator_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var slugs []string
	for _, v := range r.MultipartForm.Value["orgs"] {
		for _, slug := range strings.Split(v, ",") {
			slugs = append(slugs, strings.TrimSpace(slug))
		}
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing export file")
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read export file")
		return
	}

	rel, err := h.relocations.Upload(r.Context(), orchestrator.UploadRequest{
		CreatorID: creatorID,
		OwnerID:   ownerID,
		OrgSlugs:  slugs,
		Archive:   data,
	})
	if errors.Is(err, orchestrator.ErrInvalidUpload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to start relocation", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start relocation")
		return
	}

	w.Header().Set("Location", "/relocations/"+rel.UUID.String())
	writeJSON(w, http.StatusCreated, toView(rel))
}

func formID(r *http.Request, field string) (int64, error) {
	v := r.FormValue(field)
	if v == "" {
		return 0, errors.New(field + " is required")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(field + " must be a positive integer")
	}
	return id, nil
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid relocation id")
		return
	}
	rel, err := h.relocations.Get(r.Context(), id)
	if errors.Is(err, relocation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "relocation not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load relocation", "relocation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load relocation")
		return
	}
	writeJSON(w, http.StatusOK, toView(rel))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	rels, err := h.relocations.List(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list relocations", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list relocations")
		return
	}
	views := make([]relocationView, 0, len(rels))
	for _, rel := range rels {
		views = append(views, toView(rel))
	}
	writeJSON(w, http.StatusOK, map[string]any{"relocations": views})
}
