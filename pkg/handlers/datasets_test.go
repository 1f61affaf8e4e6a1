package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/models"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDatasetsHandler_Create(t *testing.T) {
	s := newTestServer(t, newMockDatasetService())
	user := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials-datasets",
		strings.NewReader(`{"title":"Alloys","tags":["metals"]}`))
	rec := s.do(req, user)

	require.Equal(t, http.StatusCreated, rec.Code)
	var d models.Dataset
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(t, "Alloys", d.Title)
	assert.Equal(t, user, d.OwnerID)
	assert.Equal(t, []string{"metals"}, s.datasets.created.Tags)
}

func TestDatasetsHandler_CreateRequiresUser(t *testing.T) {
	s := newTestServer(t, newMockDatasetService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials-datasets", strings.NewReader(`{"title":"x"}`))
	rec := s.do(req, uuid.Nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, s.datasets.created)
}

func TestDatasetsHandler_CreateInvalid(t *testing.T) {
	datasets := newMockDatasetService()
	s := newTestServer(t, datasets)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/materials-datasets", strings.NewReader(`{`)), uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	datasets.err = apperrors.ErrInvalidInput
	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/materials-datasets", strings.NewReader(`{"title":""}`)), uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeBody(t, rec)["error"])
}

func TestDatasetsHandler_Get(t *testing.T) {
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 3, Title: "Oxides"}))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/3", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Oxides", decodeBody(t, rec)["title"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/4", nil), uuid.Nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/abc", nil), uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_dataset_id", decodeBody(t, rec)["error"])
}

func TestDatasetsHandler_List(t *testing.T) {
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 1}, &models.Dataset{ID: 2}))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["total"])
	assert.Nil(t, s.datasets.listOwner)

	user := uuid.New()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets?owner=me", nil), user)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.datasets.listOwner)
	assert.Equal(t, user, *s.datasets.listOwner)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets?owner=me", nil), uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDatasetsHandler_UpdateOwnership(t *testing.T) {
	owner := uuid.New()
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 1, OwnerID: owner, Title: "Old"}))

	rec := s.do(httptest.NewRequest(http.MethodPatch, "/api/v1/materials-datasets/1",
		strings.NewReader(`{"title":"New"}`)), uuid.New())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, s.datasets.updated)
	denied := s.auditLogs.FilterMessage("Dataset access denied").All()
	require.Len(t, denied, 1)
	assert.Equal(t, "update", denied[0].ContextMap()["action"])

	rec = s.do(httptest.NewRequest(http.MethodPatch, "/api/v1/materials-datasets/1",
		strings.NewReader(`{"title":"New"}`)), owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New", decodeBody(t, rec)["title"])
}

func TestDatasetsHandler_UpdateRejectsUnknownFields(t *testing.T) {
	owner := uuid.New()
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 1, OwnerID: owner}))

	rec := s.do(httptest.NewRequest(http.MethodPatch, "/api/v1/materials-datasets/1",
		strings.NewReader(`{"owner_id":"`+uuid.NewString()+`"}`)), owner)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, s.datasets.updated)
}

func TestDatasetsHandler_Delete(t *testing.T) {
	owner := uuid.New()
	s := newTestServer(t, newMockDatasetService(&models.Dataset{ID: 1, OwnerID: owner}))

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/materials-datasets/1", nil), uuid.New())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/materials-datasets/1", nil), owner)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{1}, s.datasets.deleted)
	assert.Equal(t, 1, s.auditLogs.FilterMessage("Dataset deleted").Len())

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/materials-datasets/9", nil), owner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDatasetsHandler_Statistics(t *testing.T) {
	datasets := newMockDatasetService(&models.Dataset{ID: 1})
	path := "datasets/1/uploads/a.csv"
	datasets.stats = &models.DatasetStatistics{
		DatasetID:        1,
		TotalRecords:     3,
		UniqueMaterials:  []string{"Copper", "Silicon"},
		UniqueProperties: []string{"density"},
		MaterialsCount:   2,
		PropertiesCount:  1,
		CSVFilePath:      &path,
	}
	s := newTestServer(t, datasets)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/statistics", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	for _, key := range []string{"dataset_id", "total_records", "unique_materials", "unique_properties",
		"materials_count", "properties_count", "csv_file_path"} {
		assert.Contains(t, body, key)
	}
	assert.EqualValues(t, 2, body["materials_count"])
}

func TestDatasetsHandler_Validate(t *testing.T) {
	datasets := newMockDatasetService(&models.Dataset{ID: 1})
	s := newTestServer(t, datasets)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/validate", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["valid"])

	datasets.validateErr = &models.PublicationError{Problems: []string{"dataset has no records"}}
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/materials-datasets/1/validate", nil), uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, []any{"dataset has no records"}, body["problems"])
}
