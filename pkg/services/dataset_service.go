package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/database"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/repositories"
	"github.com/materialshub/materials-hub/pkg/storage"
)

const maxTitleLength = 255

// DatasetCreate holds the fields accepted when creating a dataset.
type DatasetCreate struct {
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	PublicationType models.PublicationType `json:"publication_type"`
	PublicationDOI  *string                `json:"publication_doi"`
	DatasetDOI      *string                `json:"dataset_doi"`
	Tags            []string               `json:"tags"`
	Authors         []models.Author        `json:"authors"`
}

// DatasetUpdate is a partial update. Only these fields are mutable; nil
// pointers leave the current value unchanged.
type DatasetUpdate struct {
	Title           *string                 `json:"title"`
	Description     *string                 `json:"description"`
	PublicationType *models.PublicationType `json:"publication_type"`
	PublicationDOI  *string                 `json:"publication_doi"`
	DatasetDOI      *string                 `json:"dataset_doi"`
	Tags            *[]string               `json:"tags"`
	Authors         *[]models.Author        `json:"authors"`
}

// DecodeDatasetUpdate reads a JSON DatasetUpdate, rejecting unknown keys.
func DecodeDatasetUpdate(r io.Reader) (DatasetUpdate, error) {
	var u DatasetUpdate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return DatasetUpdate{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if dec.More() {
		return DatasetUpdate{}, fmt.Errorf("%w: unexpected data after JSON object", apperrors.ErrInvalidInput)
	}
	return u, nil
}

// DatasetService manages datasets and their derived read views.
type DatasetService interface {
	Create(ctx context.Context, ownerID uuid.UUID, input DatasetCreate) (*models.Dataset, error)
	Get(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error)
	Update(ctx context.Context, id int64, update DatasetUpdate) (*models.Dataset, error)
	// Delete removes the dataset, its records and versions, and its files.
	Delete(ctx context.Context, id int64) error

	QueryRecords(ctx context.Context, id int64, filter models.RecordFilter) (*models.RecordPage, error)
	ListRecords(ctx context.Context, id int64) ([]models.MaterialRecord, error)
	Statistics(ctx context.Context, id int64) (*models.DatasetStatistics, error)
	ValidateForPublication(ctx context.Context, id int64) error
}

type datasetService struct {
	tx       database.TxManager
	datasets repositories.DatasetRepository
	records  repositories.MaterialRecordRepository
	versions repositories.DatasetVersionRepository
	store    storage.FileStore
	cache    StatisticsCache
	logger   *zap.Logger
}

// NewDatasetService creates a new DatasetService.
func NewDatasetService(
	tx database.TxManager,
	datasets repositories.DatasetRepository,
	records repositories.MaterialRecordRepository,
	versions repositories.DatasetVersionRepository,
	store storage.FileStore,
	cache StatisticsCache,
	logger *zap.Logger,
) DatasetService {
	if cache == nil {
		cache = NoopStatisticsCache{}
	}
	return &datasetService{
		tx:       tx,
		datasets: datasets,
		records:  records,
		versions: versions,
		store:    store,
		cache:    cache,
		logger:   logger.Named("datasets"),
	}
}

var _ DatasetService = (*datasetService)(nil)

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", apperrors.ErrInvalidInput)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", apperrors.ErrInvalidInput, maxTitleLength)
	}
	return nil
}

func validateAuthors(authors []models.Author) error {
	for i, a := range authors {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: author %d has no name", apperrors.ErrInvalidInput, i+1)
		}
	}
	return nil
}

func (s *datasetService) Create(ctx context.Context, ownerID uuid.UUID, input DatasetCreate) (*models.Dataset, error) {
	if err := validateTitle(input.Title); err != nil {
		return nil, err
	}
	if input.PublicationType == "" {
		input.PublicationType = models.PublicationTypeNone
	}
	if !input.PublicationType.IsValid() {
		return nil, fmt.Errorf("%w: unknown publication_type %q", apperrors.ErrInvalidInput, input.PublicationType)
	}
	if err := validateAuthors(input.Authors); err != nil {
		return nil, err
	}

	d := &models.Dataset{
		OwnerID:         ownerID,
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		PublicationType: input.PublicationType,
		PublicationDOI:  input.PublicationDOI,
		DatasetDOI:      input.DatasetDOI,
		Tags:            input.Tags,
		Authors:         input.Authors,
	}
	if err := s.datasets.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Created dataset", zap.Int64("dataset_id", d.ID), zap.String("owner_id", ownerID.String()))
	return d, nil
}

func (s *datasetService) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	return s.datasets.GetByID(ctx, id)
}

func (s *datasetService) List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error) {
	return s.datasets.List(ctx, ownerID)
}

func (s *datasetService) Update(ctx context.Context, id int64, u DatasetUpdate) (*models.Dataset, error) {
	d, err := s.datasets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		if err := validateTitle(*u.Title); err != nil {
			return nil, err
		}
		d.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.PublicationType != nil {
		if !u.PublicationType.IsValid() {
			return nil, fmt.Errorf("%w: unknown publication_type %q", apperrors.ErrInvalidInput, *u.PublicationType)
		}
		d.PublicationType = *u.PublicationType
	}
	if u.PublicationDOI != nil {
		d.PublicationDOI = emptyToNil(*u.PublicationDOI)
	}
	if u.DatasetDOI != nil {
		d.DatasetDOI = emptyToNil(*u.DatasetDOI)
	}
	if u.Tags != nil {
		d.Tags = *u.Tags
	}
	if u.Authors != nil {
		if err := validateAuthors(*u.Authors); err != nil {
			return nil, err
		}
		d.Authors = *u.Authors
	}

	if err := s.datasets.UpdateMetadata(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func emptyToNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func (s *datasetService) Delete(ctx context.Context, id int64) error {
	if err := s.datasets.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(context.WithoutCancel(ctx), id)

	if err := s.store.RemoveDataset(id); err != nil {
		s.logger.Warn("Failed to remove dataset files", zap.Int64("dataset_id", id), zap.Error(err))
	}
	s.logger.Info("Deleted dataset", zap.Int64("dataset_id", id))
	return nil
}

func (s *datasetService) QueryRecords(ctx context.Context, id int64, filter models.RecordFilter) (*models.RecordPage, error) {
	if _, err := s.datasets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.records.Query(ctx, id, filter)
}

func (s *datasetService) ListRecords(ctx context.Context, id int64) ([]models.MaterialRecord, error) {
	if _, err := s.datasets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.records.ListByDataset(ctx, id)
}

// latestVersion returns the newest version number of the dataset, 0 if it
// has never been ingested.
func (s *datasetService) latestVersion(ctx context.Context, id int64) (int, error) {
	next, err := s.versions.NextVersionNumber(ctx, id)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

func (s *datasetService) Statistics(ctx context.Context, id int64) (*models.DatasetStatistics, error) {
	if _, err := s.datasets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	latest, err := s.latestVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats, ok := s.cache.Get(ctx, id, latest); ok {
		return stats, nil
	}

	// Every figure, including the version it is cached under, comes from one
	// snapshot so an ingestion committing in between cannot mix versions.
	var stats *models.DatasetStatistics
	err = s.tx.RunInSnapshot(ctx, func(ctx context.Context) error {
		d, err := s.datasets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		version, err := s.latestVersion(ctx, id)
		if err != nil {
			return err
		}
		total, err := s.records.Count(ctx, id)
		if err != nil {
			return err
		}
		materials, err := s.records.DistinctMaterials(ctx, id)
		if err != nil {
			return err
		}
		properties, err := s.records.DistinctProperties(ctx, id)
		if err != nil {
			return err
		}

		stats = &models.DatasetStatistics{
			DatasetID:        id,
			VersionNumber:    version,
			TotalRecords:     total,
			UniqueMaterials:  materials,
			UniqueProperties: properties,
			MaterialsCount:   len(materials),
			PropertiesCount:  len(properties),
			CSVFilePath:      d.CSVFilePath,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, stats)
	return stats, nil
}

func (s *datasetService) ValidateForPublication(ctx context.Context, id int64) error {
	d, err := s.datasets.GetByID(ctx, id)
	if err != nil {
		return err
	}
	records, err := s.records.ListByDataset(ctx, id)
	if err != nil {
		return err
	}
	d.Records = records

	if err := d.Validate(); err != nil {
		if errors.Is(err, models.ErrNotPublishable) {
			s.logger.Debug("Dataset failed publication checks", zap.Int64("dataset_id", id), zap.Error(err))
		}
		return err
	}
	return nil
}
