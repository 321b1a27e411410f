// Package handler exposes the job lifecycle over JSON HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rezkam/exportd/internal/application/export"
	"github.com/rezkam/exportd/internal/infrastructure/http/response"
)

const (
	defaultDLQLimit = 100
	maxDLQLimit     = 1000
)

// Handler serves the job API.
type Handler struct {
	svc      *export.Service
	validate *validator.Validate
}

// New creates a handler over the job service.
func New(svc *export.Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers the job API on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/jobs", h.submitJob)
	r.Get("/jobs/{jobId}", h.jobStatus)
	r.Post("/jobs/{jobId}/cancel", h.cancelJob)
	r.Get("/dlq", h.listDLQ)
	r.Post("/units/{inputId}/redrive", h.redriveUnit)
}

type submitItemRequest struct {
	IndexKey      string `json:"indexKey" validate:"required"`
	EffectiveDate int    `json:"effectiveDate" validate:"required"`
	AsOfIndicator string `json:"asofindicator" validate:"required"`
}

type submitJobRequest struct {
	Items  []submitItemRequest `json:"items" validate:"required,min=1,dive"`
	Output *struct {
		Format string `json:"format" validate:"omitempty,oneof=CSV"`
	} `json:"output"`
}

type submitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) && len(verr) > 0 {
			response.BadRequest(w, "invalid field: "+verr[0].Namespace())
			return
		}
		response.BadRequest(w, "invalid request")
		return
	}

	items := make([]export.SubmitItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, export.SubmitItem{
			IndexKey:      it.IndexKey,
			EffectiveDate: it.EffectiveDate,
			AsOfIndicator: it.AsOfIndicator,
		})
	}

	res, err := h.svc.Submit(r.Context(), items)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.Accepted(w, submitJobResponse{JobID: res.JobKey, Status: string(res.Status)})
}

type unitResponse struct {
	InputID       string  `json:"inputId"`
	IndexKey      string  `json:"indexKey"`
	EffectiveDate string  `json:"effectiveDate"`
	AsOfIndicator string  `json:"asofindicator"`
	Status        string  `json:"status"`
	AttemptCount  int     `json:"attemptCount"`
	S3Path        *string `json:"s3Path,omitempty"`
	IsReused      *bool   `json:"isReused,omitempty"`
	ErrorMessage  *string `json:"errorMessage,omitempty"`
}

type countsResponse struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	RetryWait      int `json:"retryWait"`
	Succeeded      int `json:"succeeded"`
	DLQ            int `json:"dlq"`
	FilesGenerated int `json:"filesGenerated"`
	FilesReused    int `json:"filesReused"`
}

type jobStatusResponse struct {
	JobID        string         `json:"jobId"`
	Status       string         `json:"status"`
	Counts       countsResponse `json:"counts"`
	RequestedAt  time.Time      `json:"requestedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Units        []unitResponse `json:"units,omitempty"`
}

func toUnitResponse(u export.UnitView) unitResponse {
	return unitResponse{
		InputID:       u.InputID,
		IndexKey:      u.IndexKey,
		EffectiveDate: u.EffectiveDate.Format("20060102"),
		AsOfIndicator: u.AsOfIndicator,
		Status:        string(u.Status),
		AttemptCount:  u.AttemptCount,
		S3Path:        u.S3Path,
		IsReused:      u.IsReused,
		ErrorMessage:  u.ErrorMessage,
	}
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	resp := jobStatusResponse{
		JobID:  view.JobKey,
		Status: view.Reported,
		Counts: countsResponse{
			Total:          view.Counts.Total,
			Pending:        view.Counts.Pending,
			Running:        view.Counts.Running,
			RetryWait:      view.Counts.RetryWait,
			Succeeded:      view.Counts.Succeeded,
			DLQ:            view.Counts.DLQ,
			FilesGenerated: view.Counts.FilesGenerated,
			FilesReused:    view.Counts.FilesReused,
		},
		RequestedAt:  view.RequestedAt,
		CompletedAt:  view.CompletedAt,
		ErrorMessage: view.ErrorMessage,
	}
	for _, u := range view.Units {
		resp.Units = append(resp.Units, toUnitResponse(u))
	}

	response.OK(w, resp)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "jobId")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDLQLimit {
			response.BadRequest(w, "limit must be an integer between 1 and "+strconv.Itoa(maxDLQLimit))
			return
		}
		limit = n
	}

	units, err := h.svc.ListDLQ(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	resp := struct {
		Units []unitResponse `json:"units"`
	}{Units: make([]unitResponse, 0, len(units))}
	for _, u := range units {
		resp.Units = append(resp.Units, toUnitResponse(u))
	}
	response.OK(w, resp)
}

func (h *Handler) redriveUnit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "inputId")
	if _, err := uuid.Parse(unitID); err != nil {
		response.BadRequest(w, "inputId must be a UUID")
		return
	}
	if err := h.svc.Redrive(r.Context(), unitID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}
