package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/audit"
	"github.com/materialshub/materials-hub/pkg/auth"
	"github.com/materialshub/materials-hub/pkg/middleware"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/services"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockDatasetService struct {
	datasets    map[int64]*models.Dataset
	created     *services.DatasetCreate
	updated     *services.DatasetUpdate
	deleted     []int64
	listOwner   *uuid.UUID
	records     *models.RecordPage
	lastFilter  models.RecordFilter
	allRecords  []models.MaterialRecord
	stats       *models.DatasetStatistics
	validateErr error
	err         error
}

func newMockDatasetService(datasets ...*models.Dataset) *mockDatasetService {
	m := &mockDatasetService{datasets: make(map[int64]*models.Dataset)}
	for _, d := range datasets {
		m.datasets[d.ID] = d
	}
	return m
}

func (m *mockDatasetService) lookup(id int64) (*models.Dataset, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.datasets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (m *mockDatasetService) Create(ctx context.Context, ownerID uuid.UUID, input services.DatasetCreate) (*models.Dataset, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = &input
	d := &models.Dataset{ID: int64(len(m.datasets) + 1), OwnerID: ownerID, Title: input.Title}
	m.datasets[d.ID] = d
	return d, nil
}

func (m *mockDatasetService) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	return m.lookup(id)
}

func (m *mockDatasetService) List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.listOwner = ownerID
	out := make([]*models.Dataset, 0, len(m.datasets))
	for _, d := range m.datasets {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDatasetService) Update(ctx context.Context, id int64, update services.DatasetUpdate) (*models.Dataset, error) {
	d, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	m.updated = &update
	if update.Title != nil {
		d.Title = *update.Title
	}
	return d, nil
}

func (m *mockDatasetService) Delete(ctx context.Context, id int64) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockDatasetService) QueryRecords(ctx context.Context, id int64, filter models.RecordFilter) (*models.RecordPage, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	m.lastFilter = filter
	return m.records, nil
}

func (m *mockDatasetService) ListRecords(ctx context.Context, id int64) ([]models.MaterialRecord, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.allRecords, nil
}

func (m *mockDatasetService) Statistics(ctx context.Context, id int64) (*models.DatasetStatistics, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.stats, nil
}

func (m *mockDatasetService) ValidateForPublication(ctx context.Context, id int64) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}
	return m.validateErr
}

type mockIngestionService struct {
	result  *services.IngestResult
	err     error
	request *services.IngestRequest
	content string
}

func (m *mockIngestionService) Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error) {
	b, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, err
	}
	m.request = &req
	m.content = string(b)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockVersionService struct {
	versions   []*models.DatasetVersion
	comparison *models.VersionComparison
	diff       string
	snapshot   string
	err        error
	lastRange  [2]int
}

func (m *mockVersionService) List(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error) {
	return m.versions, m.err
}

func (m *mockVersionService) Get(ctx context.Context, datasetID int64, n int) (*models.DatasetVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, v := range m.versions {
		if v.VersionNumber == n {
			return v, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockVersionService) GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error) {
	if len(m.versions) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return m.versions[0], m.err
}

func (m *mockVersionService) Compare(ctx context.Context, datasetID int64, from, to int) (*models.VersionComparison, error) {
	m.lastRange = [2]int{from, to}
	return m.comparison, m.err
}

func (m *mockVersionService) Diff(ctx context.Context, datasetID int64, from, to int) (string, error) {
	m.lastRange = [2]int{from, to}
	return m.diff, m.err
}

func (m *mockVersionService) OpenSnapshot(ctx context.Context, datasetID int64, n int) (io.ReadCloser, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return io.NopCloser(bytes.NewBufferString(m.snapshot)), "materials_dataset_1_v1.csv", nil
}

// ============================================================================
// Test server
// ============================================================================

type testServer struct {
	mux       *http.ServeMux
	datasets  *mockDatasetService
	ingestion *mockIngestionService
	versions  *mockVersionService
	auditLogs *observer.ObservedLogs
}

func newTestServer(t *testing.T, datasets *mockDatasetService) *testServer {
	t.Helper()
	logger := zap.NewNop()
	authMiddleware := auth.NewMiddleware(auth.NewSessionStore("test-secret", 3600, false), logger)
	auditCore, auditLogs := observer.New(zapcore.InfoLevel)
	auditor := audit.NewSecurityAuditor(zap.New(auditCore))

	s := &testServer{
		mux:       http.NewServeMux(),
		datasets:  datasets,
		ingestion: &mockIngestionService{},
		versions:  &mockVersionService{},
		auditLogs: auditLogs,
	}
	NewDatasetsHandler(s.datasets, auditor, logger).RegisterRoutes(s.mux, authMiddleware)
	NewRecordsHandler(s.datasets, logger).RegisterRoutes(s.mux)
	NewUploadHandler(s.ingestion, s.datasets, auditor, middleware.NewRateLimiter(0, 0, logger), 1<<20, logger).
		RegisterRoutes(s.mux, authMiddleware)
	NewVersionsHandler(s.versions, logger).RegisterRoutes(s.mux)
	return s
}

// do serves req, signed in as user unless user is uuid.Nil.
func (s *testServer) do(req *http.Request, user uuid.UUID) *httptest.ResponseRecorder {
	if user != uuid.Nil {
		req = req.WithContext(auth.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, url, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
