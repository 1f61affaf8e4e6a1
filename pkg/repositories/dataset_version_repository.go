package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/database"
	"github.com/materialshub/materials-hub/pkg/models"
)

// VersionInput carries everything stored in a new version row.
// The version number is assigned by the repository.
type VersionInput struct {
	DatasetID        int64
	CSVSnapshotPath  string
	MetadataSnapshot models.MetadataSnapshot
	Changelog        models.Changelog
	RecordsCount     int
	UserID           *uuid.UUID
}

// DatasetVersionRepository stores the append-only version history.
// There is deliberately no update operation.
type DatasetVersionRepository interface {
	// NextVersionNumber returns max(version_number)+1 for the dataset, or 1.
	NextVersionNumber(ctx context.Context, datasetID int64) (int, error)
	// Create inserts a version numbered max+1 in the caller's transaction.
	Create(ctx context.Context, input VersionInput) (*models.DatasetVersion, error)
	ListByDataset(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error)
	GetByNumber(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetVersion, error)
	GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error)
}

type datasetVersionRepository struct {
	db *database.DB
}

// NewDatasetVersionRepository creates a new DatasetVersionRepository.
func NewDatasetVersionRepository(db *database.DB) DatasetVersionRepository {
	return &datasetVersionRepository{db: db}
}

var _ DatasetVersionRepository = (*datasetVersionRepository)(nil)

const versionColumns = `
	id, dataset_id, version_number, created_at, created_by, csv_snapshot_path,
	metadata_snapshot, changelog, records_count`

func (r *datasetVersionRepository) NextVersionNumber(ctx context.Context, datasetID int64) (int, error) {
	var next int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM dataset_versions WHERE dataset_id = $1`,
		datasetID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version number: %w", err)
	}
	return next, nil
}

func (r *datasetVersionRepository) Create(ctx context.Context, in VersionInput) (*models.DatasetVersion, error) {
	query := `
		INSERT INTO dataset_versions (
			dataset_id, version_number, created_by, csv_snapshot_path,
			metadata_snapshot, changelog, records_count
		)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4, $5, $6
		FROM dataset_versions WHERE dataset_id = $1
		RETURNING ` + versionColumns

	v, err := scanDatasetVersion(r.db.Querier(ctx).QueryRow(ctx, query,
		in.DatasetID,
		in.UserID,
		in.CSVSnapshotPath,
		in.MetadataSnapshot,
		in.Changelog,
		in.RecordsCount,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("concurrent version for dataset %d: %w", in.DatasetID, apperrors.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to create dataset version: %w", err)
	}
	return v, nil
}

func (r *datasetVersionRepository) ListByDataset(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM dataset_versions
		WHERE dataset_id = $1
		ORDER BY version_number DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.DatasetVersion, 0)
	for rows.Next() {
		v, err := scanDatasetVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset versions: %w", err)
	}
	return versions, nil
}

func (r *datasetVersionRepository) GetByNumber(ctx context.Context, datasetID int64, versionNumber int) (*models.DatasetVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM dataset_versions
		WHERE dataset_id = $1 AND version_number = $2`
	return r.get(ctx, query, datasetID, versionNumber)
}

func (r *datasetVersionRepository) GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM dataset_versions
		WHERE dataset_id = $1
		ORDER BY version_number DESC
		LIMIT 1`
	return r.get(ctx, query, datasetID)
}

func (r *datasetVersionRepository) get(ctx context.Context, query string, args ...any) (*models.DatasetVersion, error) {
	v, err := scanDatasetVersion(r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset version: %w", err)
	}
	return v, nil
}

func scanDatasetVersion(row pgx.Row) (*models.DatasetVersion, error) {
	var v models.DatasetVersion
	err := row.Scan(
		&v.ID,
		&v.DatasetID,
		&v.VersionNumber,
		&v.CreatedAt,
		&v.CreatedBy,
		&v.CSVSnapshotPath,
		&v.MetadataSnapshot,
		&v.Changelog,
		&v.RecordsCount,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
