package httptransport

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/apperr"
	"kyc-worker-service/internal/auth"
	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/service"
)

// Form field names of the three artifacts.
const (
	fieldFront  = "idFront"
	fieldBack   = "idBack"
	fieldSelfie = "selfie"
)

type KYCService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, callerID, jobID uuid.UUID) (*entity.Job, error)
}

type Handler struct {
	kyc          KYCService
	maxFileBytes int64
}

func NewHandler(kyc KYCService, maxFileBytes int64) *Handler {
	return &Handler{kyc: kyc, maxFileBytes: maxFileBytes}
}

type submitResp struct {
	Status string         `json:"status"`
	Data   submitRespData `json:"data"`
}

type submitRespData struct {
	JobID string `json:"jobId"`
}

type statusResp struct {
	JobID           string           `json:"jobId"`
	Status          entity.JobStatus `json:"status"`
	OCRConfidence   *float64         `json:"ocrConfidence,omitempty"`
	MatchScore      *float64         `json:"matchScore,omitempty"`
	CredentialID    *string          `json:"credentialId,omitempty"`
	TransactionHash *string          `json:"transactionHash,omitempty"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

// SubmitKYC godoc
// @Summary Submit identity documents for verification
// @Description Stores the three images, records a queued job and enqueues it. Processing happens asynchronously.
// @Tags kyc
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param idFront formData file true "front of the ID document"
// @Param idBack formData file true "back of the ID document"
// @Param selfie formData file true "selfie of the applicant"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 413 {object} apiError
// @Failure 500 {object} apiError
// @Router /kyc/submit [post]
func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.maxFileBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 3*h.maxFileBytes+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := service.SubmitRequest{UserID: userID}
	for field, dst := range map[string]**service.Upload{
		fieldFront:  &req.Front,
		fieldBack:   &req.Back,
		fieldSelfie: &req.Selfie,
	} {
		u, err := h.readUpload(r.MultipartForm, field)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "could not read "+field)
			return
		}
		*dst = u
	}

	id, err := h.kyc.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResp{Status: "success", Data: submitRespData{JobID: id.String()}})
}

// readUpload returns nil when the field is absent so the service reports
// the validation error.
func (h *Handler) readUpload(form *multipart.Form, field string) (*service.Upload, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src io.Reader = f
	if h.maxFileBytes > 0 {
		// One byte past the limit is enough for the service to reject it.
		src = io.LimitReader(f, h.maxFileBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// GetKYCStatus godoc
// @Summary Get verification status
// @Description Returns the job status with whatever scores and credential data exist. Jobs of other users are reported as not found.
// @Tags kyc
// @Produce json
// @Security BearerAuth
// @Param jobId path string true "job id (uuid)"
// @Success 200 {object} statusResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /kyc/status/{jobId} [get]
func (h *Handler) GetKYCStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFrom(r.Context())
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := h.kyc.GetStatus(r.Context(), userID, jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResp{
		JobID:           j.ID.String(),
		Status:          j.Status,
		OCRConfidence:   j.OCRConfidence,
		MatchScore:      j.MatchScore,
		CredentialID:    j.CredentialID,
		TransactionHash: j.TransactionHash,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden):
		writeErr(w, http.StatusNotFound, "job not found or not yours")
	case errors.Is(err, apperr.ErrUnauthorized):
		writeErr(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, apperr.ErrTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
