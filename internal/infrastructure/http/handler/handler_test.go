package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/exportd/internal/application/export"
	"github.com/rezkam/exportd/internal/domain"
)

// mockRepository implements export.Repository for testing
type mockRepository struct {
	createJobFunc           func(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error
	findJobByKeyFunc        func(ctx context.Context, jobKey string) (*domain.ExportJob, error)
	jobCountsFunc           func(ctx context.Context, jobID string) (*domain.JobCounts, error)
	cancelJobFunc           func(ctx context.Context, jobID string, now time.Time) error
	listDLQUnitsFunc        func(ctx context.Context, limit int) ([]*domain.ExportUnit, error)
	resetUnitForRedriveFunc func(ctx context.Context, unitID string) error
}

func (m *mockRepository) CreateJob(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error {
	if m.createJobFunc != nil {
		return m.createJobFunc(ctx, job, units)
	}
	return nil
}

func (m *mockRepository) NextJobSequence(ctx context.Context) (int64, error) { return 7, nil }

func (m *mockRepository) FindJobByKey(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
	if m.findJobByKeyFunc != nil {
		return m.findJobByKeyFunc(ctx, jobKey)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) JobCounts(ctx context.Context, jobID string) (*domain.JobCounts, error) {
	if m.jobCountsFunc != nil {
		return m.jobCountsFunc(ctx, jobID)
	}
	return &domain.JobCounts{}, nil
}

func (m *mockRepository) JobDetail(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error) {
	return nil, nil, domain.ErrJobNotFound
}

func (m *mockRepository) CancelJob(ctx context.Context, jobID string, now time.Time) error {
	if m.cancelJobFunc != nil {
		return m.cancelJobFunc(ctx, jobID, now)
	}
	return nil
}

func (m *mockRepository) ListDLQUnits(ctx context.Context, limit int) ([]*domain.ExportUnit, error) {
	if m.listDLQUnitsFunc != nil {
		return m.listDLQUnitsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockRepository) ResetUnitForRedrive(ctx context.Context, unitID string) error {
	if m.resetUnitForRedriveFunc != nil {
		return m.resetUnitForRedriveFunc(ctx, unitID)
	}
	return nil
}

func newTestRouter(repo *mockRepository, maxUnits int) http.Handler {
	clock := func() time.Time { return time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC) }
	h := New(export.NewService(repo, maxUnits, clock))
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJob(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1000)

	rec := doRequest(t, router, http.MethodPost, "/jobs",
		`{"items":[{"indexKey":"FUND_A","effectiveDate":20260701,"asofindicator":"EOD"}]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "J20260824_7", resp.JobID)
	assert.Equal(t, "SUBMITTED", resp.Status)
}

func TestSubmitJobValidation(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1000)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"invalid JSON", `{"items":`, http.StatusBadRequest},
		{"no items", `{"items":[]}`, http.StatusBadRequest},
		{"missing indexKey", `{"items":[{"effectiveDate":20260701,"asofindicator":"EOD"}]}`, http.StatusBadRequest},
		{"missing asof", `{"items":[{"indexKey":"FUND_A","effectiveDate":20260701}]}`, http.StatusBadRequest},
		{"bad output format", `{"items":[{"indexKey":"FUND_A","effectiveDate":20260701,"asofindicator":"EOD"}],"output":{"format":"XML"}}`, http.StatusBadRequest},
		{"non-calendar date", `{"items":[{"indexKey":"FUND_A","effectiveDate":20260231,"asofindicator":"EOD"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestSubmitJobOverCap(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1)

	rec := doRequest(t, router, http.MethodPost, "/jobs",
		`{"items":[
			{"indexKey":"FUND_A","effectiveDate":20260701,"asofindicator":"EOD"},
			{"indexKey":"FUND_B","effectiveDate":20260701,"asofindicator":"EOD"}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitJobKeyConflict(t *testing.T) {
	repo := &mockRepository{
		createJobFunc: func(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error {
			return domain.ErrJobKeyConflict
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodPost, "/jobs",
		`{"items":[{"indexKey":"FUND_A","effectiveDate":20260701,"asofindicator":"EOD"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobStatus(t *testing.T) {
	repo := &mockRepository{
		findJobByKeyFunc: func(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
			return &domain.ExportJob{ID: "job-1", JobKey: jobKey, Status: domain.JobRunning}, nil
		},
		jobCountsFunc: func(ctx context.Context, jobID string) (*domain.JobCounts, error) {
			return &domain.JobCounts{Total: 3, Pending: 1, Running: 1, Succeeded: 1}, nil
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodGet, "/jobs/J20260824_7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
		Counts struct {
			Total     int `json:"total"`
			Succeeded int `json:"succeeded"`
		} `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "J20260824_7", resp.JobID)
	assert.Equal(t, "IN_PROGRESS", resp.Status)
	assert.Equal(t, 3, resp.Counts.Total)
	assert.Equal(t, 1, resp.Counts.Succeeded)
}

func TestJobStatusNotFound(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1000)
	rec := doRequest(t, router, http.MethodGet, "/jobs/J20990101_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob(t *testing.T) {
	repo := &mockRepository{
		findJobByKeyFunc: func(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
			return &domain.ExportJob{ID: "job-1", JobKey: jobKey, Status: domain.JobRunning}, nil
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodPost, "/jobs/J20260824_7/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCancelTerminalJob(t *testing.T) {
	repo := &mockRepository{
		findJobByKeyFunc: func(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
			return &domain.ExportJob{ID: "job-1", JobKey: jobKey, Status: domain.JobCompleted}, nil
		},
		cancelJobFunc: func(ctx context.Context, jobID string, now time.Time) error {
			return domain.ErrJobNotCancellable
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodPost, "/jobs/J20260824_7/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDLQ(t *testing.T) {
	msg := "no such procedure"
	repo := &mockRepository{
		listDLQUnitsFunc: func(ctx context.Context, limit int) ([]*domain.ExportUnit, error) {
			assert.Equal(t, 5, limit)
			return []*domain.ExportUnit{{
				ID:            "0198c0de-0000-7000-8000-000000000001",
				IndexKey:      "FUND_A",
				EffectiveDate: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
				AsOfIndicator: "EOD",
				Status:        domain.UnitDLQ,
				AttemptCount:  5,
				ErrorMessage:  &msg,
			}}, nil
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodGet, "/dlq?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Units []struct {
			InputID       string `json:"inputId"`
			EffectiveDate string `json:"effectiveDate"`
			Status        string `json:"status"`
			ErrorMessage  string `json:"errorMessage"`
		} `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Units, 1)
	assert.Equal(t, "20260701", resp.Units[0].EffectiveDate)
	assert.Equal(t, "DLQ", resp.Units[0].Status)
	assert.Equal(t, msg, resp.Units[0].ErrorMessage)
}

func TestListDLQBadLimit(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1000)
	for _, limit := range []string{"abc", "0", "-1", "100000"} {
		rec := doRequest(t, router, http.MethodGet, "/dlq?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestRedriveUnit(t *testing.T) {
	var reset string
	repo := &mockRepository{
		resetUnitForRedriveFunc: func(ctx context.Context, unitID string) error {
			reset = unitID
			return nil
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodPost, "/units/0198c0de-0000-7000-8000-000000000001/redrive", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0198c0de-0000-7000-8000-000000000001", reset)
}

func TestRedriveUnitValidation(t *testing.T) {
	router := newTestRouter(&mockRepository{}, 1000)

	rec := doRequest(t, router, http.MethodPost, "/units/not-a-uuid/redrive", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedriveNonDLQUnit(t *testing.T) {
	repo := &mockRepository{
		resetUnitForRedriveFunc: func(ctx context.Context, unitID string) error {
			return domain.ErrUnitNotRedrivable
		},
	}
	router := newTestRouter(repo, 1000)

	rec := doRequest(t, router, http.MethodPost, "/units/0198c0de-0000-7000-8000-000000000001/redrive", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
