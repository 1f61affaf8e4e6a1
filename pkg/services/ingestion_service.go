package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/database"
	"github.com/materialshub/materials-hub/pkg/ingestion"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/repositories"
	"github.com/materialshub/materials-hub/pkg/storage"
)

// IngestionState is a step of the upload pipeline.
type IngestionState string

const (
	StateReceived      IngestionState = "received"
	StateSchemaChecked IngestionState = "schema_checked"
	StateRowsParsed    IngestionState = "rows_parsed"
	StatePersisted     IngestionState = "persisted"
	StateVersioned     IngestionState = "versioned"
	StateRejected      IngestionState = "rejected"
)

// IngestRequest is one CSV upload bound to an existing dataset.
type IngestRequest struct {
	DatasetID int64
	// UserID is nil for system-triggered ingestions.
	UserID  *uuid.UUID
	Content io.Reader
}

// IngestResult reports a successful, possibly partial, ingestion.
type IngestResult struct {
	DatasetID        int64                    `json:"dataset_id"`
	RecordsCreated   int                      `json:"records_created"`
	VersionNumber    int                      `json:"version_number"`
	FailedRows       []ingestion.RowError     `json:"failed_rows"`
	Warnings         []ingestion.FieldWarning `json:"warnings"`
	IgnoredColumns   []string                 `json:"ignored_columns"`
	DuplicateColumns []string                 `json:"duplicate_columns"` // later copies of a repeated header are skipped
	Changelog        models.Changelog         `json:"changelog"`
}

// IngestionService turns CSV uploads into records and versions.
type IngestionService interface {
	// Ingest validates, parses and stores an upload, replacing the dataset's
	// records and creating a new version in one transaction.
	//
	// Errors: apperrors.ErrNotFound for an unknown dataset, *ingestion.SchemaError
	// for missing columns, ErrNoValidRows when every row fails, and
	// *PersistenceError when storage fails. Nothing is changed on error.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

type ingestionService struct {
	tx       database.TxManager
	datasets repositories.DatasetRepository
	records  repositories.MaterialRecordRepository
	versions repositories.DatasetVersionRepository
	store    storage.FileStore
	cache    StatisticsCache
	logger   *zap.Logger
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(
	tx database.TxManager,
	datasets repositories.DatasetRepository,
	records repositories.MaterialRecordRepository,
	versions repositories.DatasetVersionRepository,
	store storage.FileStore,
	cache StatisticsCache,
	logger *zap.Logger,
) IngestionService {
	if cache == nil {
		cache = NoopStatisticsCache{}
	}
	return &ingestionService{
		tx:       tx,
		datasets: datasets,
		records:  records,
		versions: versions,
		store:    store,
		cache:    cache,
		logger:   logger.Named("ingestion"),
	}
}

var _ IngestionService = (*ingestionService)(nil)

// ingestionRun tracks the state of one Ingest call for logging.
type ingestionRun struct {
	datasetID int64
	state     IngestionState
	logger    *zap.Logger
}

func (r *ingestionRun) advance(to IngestionState) {
	r.logger.Debug("Ingestion state change",
		zap.Int64("dataset_id", r.datasetID),
		zap.String("from", string(r.state)),
		zap.String("to", string(to)))
	r.state = to
}

func (r *ingestionRun) reject(err error) error {
	r.logger.Info("Ingestion rejected",
		zap.Int64("dataset_id", r.datasetID),
		zap.String("failed_in", string(r.state)),
		zap.Error(err))
	r.state = StateRejected
	return err
}

func (s *ingestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	run := &ingestionRun{datasetID: req.DatasetID, state: StateReceived, logger: s.logger}

	if _, err := s.datasets.GetByID(ctx, req.DatasetID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, run.reject(err)
		}
		return nil, run.reject(fmt.Errorf("failed to load dataset: %w", err))
	}

	content, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, run.reject(fmt.Errorf("failed to read upload: %w", err))
	}

	parsed, err := ingestion.ParseCSV(bytes.NewReader(content))
	if err != nil {
		return nil, run.reject(err)
	}
	run.advance(StateSchemaChecked)

	if len(parsed.Records) == 0 {
		return nil, run.reject(&NoValidRowsError{Failed: parsed.Failed})
	}
	run.advance(StateRowsParsed)

	uploadPath, err := s.store.WriteUpload(req.DatasetID, bytes.NewReader(content))
	if err != nil {
		return nil, run.reject(&PersistenceError{Op: "store upload", Err: err})
	}
	written := []string{uploadPath}

	var (
		version      *models.DatasetVersion
		changelog    models.Changelog
		previousPath *string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		dataset, err := s.datasets.GetForUpdate(ctx, req.DatasetID)
		if err != nil {
			return &PersistenceError{Op: "lock dataset", Err: err}
		}
		previousPath = dataset.CSVFilePath

		previous, err := s.records.ListByDataset(ctx, req.DatasetID)
		if err != nil {
			return &PersistenceError{Op: "load previous records", Err: err}
		}
		next, err := s.versions.NextVersionNumber(ctx, req.DatasetID)
		if err != nil {
			return &PersistenceError{Op: "allocate version", Err: err}
		}
		changelog = ComputeChangelog(next-1, previous, parsed.Records, len(parsed.Failed))

		if _, err := s.records.ReplaceAll(ctx, req.DatasetID, parsed.Records); err != nil {
			return &PersistenceError{Op: "replace records", Err: err}
		}
		run.advance(StatePersisted)

		snapshotPath, err := s.store.WriteVersionSnapshot(req.DatasetID, next, bytes.NewReader(content))
		if err != nil {
			return &PersistenceError{Op: "store snapshot", Err: err}
		}
		written = append(written, snapshotPath)

		if err := s.datasets.UpdateCSVPath(ctx, req.DatasetID, uploadPath); err != nil {
			return &PersistenceError{Op: "update csv path", Err: err}
		}

		version, err = s.versions.Create(ctx, repositories.VersionInput{
			DatasetID:        req.DatasetID,
			CSVSnapshotPath:  snapshotPath,
			MetadataSnapshot: dataset.MetadataSnapshot(),
			Changelog:        changelog,
			RecordsCount:     len(parsed.Records),
			UserID:           req.UserID,
		})
		if err != nil {
			return &PersistenceError{Op: "create version", Err: err}
		}
		if version.VersionNumber != next {
			return &PersistenceError{
				Op:  "create version",
				Err: fmt.Errorf("expected version %d, got %d: %w", next, version.VersionNumber, apperrors.ErrConflict),
			}
		}
		return nil
	})
	if err != nil {
		s.removeFiles(written)
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			// Begin or commit failed, or the context was cancelled.
			err = &PersistenceError{Op: "commit", Err: err}
		}
		return nil, run.reject(err)
	}
	run.advance(StateVersioned)

	if previousPath != nil && *previousPath != uploadPath {
		if err := s.store.Remove(*previousPath); err != nil {
			s.logger.Warn("Failed to remove previous upload", zap.String("path", *previousPath), zap.Error(err))
		}
	}
	s.cache.Invalidate(context.WithoutCancel(ctx), req.DatasetID)

	s.logger.Info("Ingestion complete",
		zap.Int64("dataset_id", req.DatasetID),
		zap.Int("version", version.VersionNumber),
		zap.Int("records", len(parsed.Records)),
		zap.Int("failed_rows", len(parsed.Failed)),
		zap.Int("warnings", len(parsed.Warnings)))

	return &IngestResult{
		DatasetID:        req.DatasetID,
		RecordsCreated:   len(parsed.Records),
		VersionNumber:    version.VersionNumber,
		FailedRows:       nonNil(parsed.Failed),
		Warnings:         nonNil(parsed.Warnings),
		IgnoredColumns:   nonNil(parsed.Columns.ExtraColumns),
		DuplicateColumns: nonNil(parsed.Columns.DuplicateColumns),
		Changelog:        changelog,
	}, nil
}

func (s *ingestionService) removeFiles(paths []string) {
	for _, p := range paths {
		if err := s.store.Remove(p); err != nil {
			s.logger.Warn("Failed to clean up file after rejected ingestion", zap.String("path", p), zap.Error(err))
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
