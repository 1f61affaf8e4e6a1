package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/models"
)

func versionServer(t *testing.T) *testServer {
	t.Helper()
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 1}))
	s.versions.versions = []*models.DatasetVersion{
		{ID: 2, DatasetID: 1, VersionNumber: 2, CreatedAt: time.Now(), RecordsCount: 2},
		{ID: 1, DatasetID: 1, VersionNumber: 1, CreatedAt: time.Now(), RecordsCount: 3},
	}
	return s
}

func TestVersionsHandler_List(t *testing.T) {
	s := versionServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])
}

func TestVersionsHandler_Get(t *testing.T) {
	s := versionServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/1", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeBody(t, rec)["records_count"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/9", nil), uuid.Nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/0", nil), uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionsHandler_Download(t *testing.T) {
	s := versionServer(t)
	s.versions.snapshot = "material_name,property_name,property_value\nSilicon,density,2.33\n"

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/1/download", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "materials_dataset_1_v1.csv")
	assert.Equal(t, s.versions.snapshot, rec.Body.String())
}

func TestVersionsHandler_Compare(t *testing.T) {
	s := versionServer(t)
	s.versions.comparison = &models.VersionComparison{
		DatasetID:   1,
		FromVersion: 1,
		ToVersion:   2,
		Records: models.RecordComparison{
			Added:    []models.MaterialRecord{{MaterialName: "Copper"}},
			Deleted:  []models.MaterialRecord{},
			Modified: []models.RecordModification{},
		},
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/compare?from=1&to=2", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]int{1, 2}, s.versions.lastRange)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "records")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/compare?from=1", nil), uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionsHandler_Diff(t *testing.T) {
	s := versionServer(t)
	s.versions.diff = "--- a\n+++ b\n"

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/diff?from=1&to=2", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "--- a\n+++ b\n", rec.Body.String())

	s.versions.err = apperrors.ErrNotFound
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/versions/diff?from=1&to=5", nil), uuid.Nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
