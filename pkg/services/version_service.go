package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/ingestion"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/repositories"
	"github.com/materialshub/materials-hub/pkg/storage"
)

// VersionService reads and compares the version history of datasets.
type VersionService interface {
	// List returns versions newest first.
	List(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error)
	Get(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetVersion, error)
	GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error)
	// Compare reports metadata and record differences from one version to another.
	Compare(ctx context.Context, datasetID int64, from, to int) (*models.VersionComparison, error)
	// Diff returns a unified text diff of the two CSV snapshots.
	Diff(ctx context.Context, datasetID int64, from, to int) (string, error)
	// OpenSnapshot opens the CSV stored for a version. The caller closes it.
	OpenSnapshot(ctx context.Context, datasetID int64, versionNumber int) (io.ReadCloser, string, error)
}

type versionService struct {
	datasets repositories.DatasetRepository
	versions repositories.DatasetVersionRepository
	store    storage.FileStore
	logger   *zap.Logger
}

// NewVersionService creates a new VersionService.
func NewVersionService(
	datasets repositories.DatasetRepository,
	versions repositories.DatasetVersionRepository,
	store storage.FileStore,
	logger *zap.Logger,
) VersionService {
	return &versionService{
		datasets: datasets,
		versions: versions,
		store:    store,
		logger:   logger.Named("versions"),
	}
}

var _ VersionService = (*versionService)(nil)

func (s *versionService) List(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error) {
	if _, err := s.datasets.GetByID(ctx, datasetID); err != nil {
		return nil, err
	}
	return s.versions.ListByDataset(ctx, datasetID)
}

func (s *versionService) Get(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetVersion, error) {
	if versionNumber < 1 {
		return nil, fmt.Errorf("%w: version number must be positive", apperrors.ErrInvalidInput)
	}
	return s.versions.GetByNumber(ctx, datasetID, versionNumber)
}

func (s *versionService) GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error) {
	return s.versions.GetLatest(ctx, datasetID)
}

func (s *versionService) pair(ctx context.Context, datasetID int64, from, to int) (*models.DatasetVersion, *models.DatasetVersion, error) {
	v1, err := s.Get(ctx, datasetID, from)
	if err != nil {
		return nil, nil, err
	}
	v2, err := s.Get(ctx, datasetID, to)
	if err != nil {
		return nil, nil, err
	}
	return v1, v2, nil
}

func (s *versionService) Compare(ctx context.Context, datasetID int64, from, to int) (*models.VersionComparison, error) {
	v1, v2, err := s.pair(ctx, datasetID, from, to)
	if err != nil {
		return nil, err
	}

	oldRecords, err := s.snapshotRecords(v1)
	if err != nil {
		return nil, err
	}
	newRecords, err := s.snapshotRecords(v2)
	if err != nil {
		return nil, err
	}

	return &models.VersionComparison{
		DatasetID:   datasetID,
		FromVersion: from,
		ToVersion:   to,
		Metadata:    CompareMetadata(v1.MetadataSnapshot, v2.MetadataSnapshot),
		Records:     CompareRecords(oldRecords, newRecords),
	}, nil
}

func (s *versionService) snapshotRecords(v *models.DatasetVersion) ([]models.MaterialRecord, error) {
	rc, err := s.store.Open(v.CSVSnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot of version %d: %w", v.VersionNumber, err)
	}
	defer rc.Close()

	parsed, err := ingestion.ParseCSV(rc)
	if err != nil {
		var schemaErr *ingestion.SchemaError
		if errors.As(err, &schemaErr) {
			s.logger.Error("Stored snapshot failed schema check",
				zap.Int64("dataset_id", v.DatasetID),
				zap.Int("version", v.VersionNumber),
				zap.String("message", schemaErr.Message))
		}
		return nil, fmt.Errorf("failed to parse snapshot of version %d: %w", v.VersionNumber, err)
	}
	return parsed.Records, nil
}

// CompareMetadata compares every snapshot field of two versions.
func CompareMetadata(a, b models.MetadataSnapshot) map[string]models.MetadataFieldChange {
	fields := map[string][2]any{
		"title":            {a.Title, b.Title},
		"description":      {a.Description, b.Description},
		"publication_type": {string(a.PublicationType), string(b.PublicationType)},
		"publication_doi":  {derefOrNil(a.PublicationDOI), derefOrNil(b.PublicationDOI)},
		"dataset_doi":      {derefOrNil(a.DatasetDOI), derefOrNil(b.DatasetDOI)},
		"tags":             {nonNil(a.Tags), nonNil(b.Tags)},
		"authors":          {nonNil(a.Authors), nonNil(b.Authors)},
	}

	out := make(map[string]models.MetadataFieldChange, len(fields))
	for name, pair := range fields {
		out[name] = models.MetadataFieldChange{
			Old:     pair[0],
			New:     pair[1],
			Changed: !reflect.DeepEqual(pair[0], pair[1]),
		}
	}
	return out
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *versionService) Diff(ctx context.Context, datasetID int64, from, to int) (string, error) {
	v1, v2, err := s.pair(ctx, datasetID, from, to)
	if err != nil {
		return "", err
	}

	a, err := s.readSnapshot(v1)
	if err != nil {
		return "", err
	}
	b, err := s.readSnapshot(v2)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: storage.SnapshotFileName(datasetID, from),
		ToFile:   storage.SnapshotFileName(datasetID, to),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("failed to diff versions: %w", err)
	}
	return text, nil
}

func (s *versionService) readSnapshot(v *models.DatasetVersion) (string, error) {
	rc, err := s.store.Open(v.CSVSnapshotPath)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot of version %d: %w", v.VersionNumber, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot of version %d: %w", v.VersionNumber, err)
	}
	return string(b), nil
}

func (s *versionService) OpenSnapshot(ctx context.Context, datasetID int64, versionNumber int) (io.ReadCloser, string, error) {
	v, err := s.Get(ctx, datasetID, versionNumber)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.store.Open(v.CSVSnapshotPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open snapshot of version %d: %w", versionNumber, err)
	}
	return rc, storage.SnapshotFileName(datasetID, versionNumber), nil
}
