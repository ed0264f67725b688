package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleUploadCounts(t *testing.T) {
	repo := newFakeUploadRepo()
	repo.counts = map[string]int{"processing": 3, "ready": 10, "failed": 2}
	q := &fakeQueue{counts: map[string]int{"pending": 3, "completed": 12}}
	handler := NewStatsHandler(repo, &fakeSnapshotRepo{}, q)

	rr := httptest.NewRecorder()
	handler.HandleUploadCounts(rr, httptest.NewRequest(http.MethodGet, "/app/admin/uploads/counts", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var response UploadCountsByStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, 3, response.Processing)
	assert.Equal(t, 10, response.Ready)
	assert.Equal(t, 2, response.Failed)
	assert.Equal(t, 15, response.Total)
	assert.Equal(t, 12, response.Jobs["completed"])
}

func TestHandleRecentUploads_DefaultLimit(t *testing.T) {
	repo := newFakeUploadRepo(
		models.NewTrackedUpload("up_1", "creator-1", models.PlatformPatreon, "a.csv"),
		models.NewTrackedUpload("up_2", "creator-2", models.PlatformSubstack, "b.csv"),
	)
	handler := NewStatsHandler(repo, &fakeSnapshotRepo{}, &fakeQueue{})

	rr := httptest.NewRecorder()
	handler.HandleRecentUploads(rr, httptest.NewRequest(http.MethodGet, "/app/admin/uploads/recent", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var response []RecentUploadSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Len(t, response, 2)
	assert.Equal(t, []string{":50"}, repo.listArgs)
}

func TestHandleRecentUploads_CreatorAndLimit(t *testing.T) {
	repo := newFakeUploadRepo(
		models.NewTrackedUpload("up_1", "creator-1", models.PlatformPatreon, "a.csv"),
		models.NewTrackedUpload("up_2", "creator-2", models.PlatformSubstack, "b.csv"),
	)
	handler := NewStatsHandler(repo, &fakeSnapshotRepo{}, &fakeQueue{})

	rr := httptest.NewRecorder()
	handler.HandleRecentUploads(rr, httptest.NewRequest(http.MethodGet, "/app/admin/uploads/recent?creator=creator-2&limit=1000", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var response []RecentUploadSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	require.Len(t, response, 1)
	assert.Equal(t, "up_2", response[0].UploadID)
	assert.Equal(t, []string{"creator-2:200"}, repo.listArgs)
}

func TestHandleRecentUploads_InvalidLimit(t *testing.T) {
	handler := NewStatsHandler(newFakeUploadRepo(), &fakeSnapshotRepo{}, &fakeQueue{})

	for _, limit := range []string{"abc", "0", "-5"} {
		rr := httptest.NewRecorder()
		handler.HandleRecentUploads(rr, httptest.NewRequest(http.MethodGet, "/app/admin/uploads/recent?limit="+limit, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit %q", limit)
	}
}

func TestHandleRecentUploads_RepositoryError(t *testing.T) {
	repo := newFakeUploadRepo()
	repo.listErr = errors.New("db down")
	handler := NewStatsHandler(repo, &fakeSnapshotRepo{}, &fakeQueue{})

	rr := httptest.NewRecorder()
	handler.HandleRecentUploads(rr, httptest.NewRequest(http.MethodGet, "/app/admin/uploads/recent", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleUploadHistory(t *testing.T) {
	u := failedUpload()
	snapshots := &fakeSnapshotRepo{snapshots: map[int64][]*models.StatusSnapshot{
		u.ID: {
			models.NewStatusSnapshot(u.ID, 1, models.UploadStatusView{Status: models.UploadStatusProcessing, RawStatus: "queued"}),
			models.NewStatusSnapshot(u.ID, 2, models.UploadStatusView{Status: models.UploadStatusFailed, RawStatus: "validation_failed", ReasonCode: "validation_failed"}),
		},
	}}
	handler := NewStatsHandler(newFakeUploadRepo(u), snapshots, &fakeQueue{})

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/app/admin/uploads/up_failed/history", nil), map[string]string{"id": "up_failed"})
	rr := httptest.NewRecorder()
	handler.HandleUploadHistory(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var response UploadHistoryResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, "up_failed", response.UploadID)
	assert.Equal(t, "failed", response.Status)
	assert.Equal(t, "subs.csv", response.Filename)
	require.Len(t, response.Snapshots, 2)
	assert.Equal(t, 1, response.Snapshots[0].PollNo)
	assert.Equal(t, "processing", response.Snapshots[0].Status)
	assert.Equal(t, "failed", response.Snapshots[1].Status)
	require.NotNil(t, response.FinishedAt)
}

func TestHandleUploadHistory_NotFound(t *testing.T) {
	handler := NewStatsHandler(newFakeUploadRepo(), &fakeSnapshotRepo{}, &fakeQueue{})

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/app/admin/uploads/missing/history", nil), map[string]string{"id": "missing"})
	rr := httptest.NewRecorder()
	handler.HandleUploadHistory(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
