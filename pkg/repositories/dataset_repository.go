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

// DatasetRepository provides data access for materials datasets.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *models.Dataset) error
	GetByID(ctx context.Context, id int64) (*models.Dataset, error)
	// GetForUpdate locks the dataset row until the surrounding transaction ends.
	// It must be called inside RunInTx.
	GetForUpdate(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error)
	UpdateMetadata(ctx context.Context, dataset *models.Dataset) error
	UpdateCSVPath(ctx context.Context, id int64, path string) error
	Delete(ctx context.Context, id int64) error
}

type datasetRepository struct {
	db *database.DB
}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository(db *database.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

var _ DatasetRepository = (*datasetRepository)(nil)

const datasetColumns = `
	id, owner_id, title, COALESCE(description, ''), publication_type,
	publication_doi, dataset_doi, tags, authors, csv_file_path,
	created_at, updated_at`

func (r *datasetRepository) Create(ctx context.Context, d *models.Dataset) error {
	if d.PublicationType == "" {
		d.PublicationType = models.PublicationTypeNone
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Authors == nil {
		d.Authors = []models.Author{}
	}

	query := `
		INSERT INTO materials_datasets (
			owner_id, title, description, publication_type, publication_doi,
			dataset_doi, tags, authors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		d.OwnerID,
		d.Title,
		d.Description,
		string(d.PublicationType),
		d.PublicationDOI,
		d.DatasetDOI,
		d.Tags,
		d.Authors,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id int64) (*models.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM materials_datasets WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *datasetRepository) GetForUpdate(ctx context.Context, id int64) (*models.Dataset, error) {
	if _, ok := database.TxFromContext(ctx); !ok {
		return nil, fmt.Errorf("GetForUpdate requires an active transaction")
	}
	query := `SELECT ` + datasetColumns + ` FROM materials_datasets WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *datasetRepository) get(ctx context.Context, query string, id int64) (*models.Dataset, error) {
	d, err := scanDataset(r.db.Querier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return d, nil
}

func (r *datasetRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM materials_datasets
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]*models.Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}

	return datasets, nil
}

func (r *datasetRepository) UpdateMetadata(ctx context.Context, d *models.Dataset) error {
	query := `
		UPDATE materials_datasets
		SET title = $2, description = $3, publication_type = $4, publication_doi = $5,
		    dataset_doi = $6, tags = $7, authors = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		d.ID,
		d.Title,
		d.Description,
		string(d.PublicationType),
		d.PublicationDOI,
		d.DatasetDOI,
		d.Tags,
		d.Authors,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update dataset: %w", err)
	}

	return nil
}

func (r *datasetRepository) UpdateCSVPath(ctx context.Context, id int64, path string) error {
	query := `UPDATE materials_datasets SET csv_file_path = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id, path)
	if err != nil {
		return fmt.Errorf("failed to update csv path: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *datasetRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM materials_datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	var pubType string
	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.Title,
		&d.Description,
		&pubType,
		&d.PublicationDOI,
		&d.DatasetDOI,
		&d.Tags,
		&d.Authors,
		&d.CSVFilePath,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PublicationType = models.PublicationType(pubType)
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Authors == nil {
		d.Authors = []models.Author{}
	}
	return &d, nil
}
