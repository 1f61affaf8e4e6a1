package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/materialshub/materials-hub/pkg/database"
	"github.com/materialshub/materials-hub/pkg/models"
)

// MaterialRecordRepository owns the persisted records of each dataset.
type MaterialRecordRepository interface {
	// ReplaceAll deletes every record of the dataset and inserts records in
	// their place. It joins the caller's transaction or opens its own.
	ReplaceAll(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error)
	// AppendBatch inserts records without touching existing ones, atomically.
	AppendBatch(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error)
	Query(ctx context.Context, datasetID int64, filter models.RecordFilter) (*models.RecordPage, error)
	ListByDataset(ctx context.Context, datasetID int64) ([]models.MaterialRecord, error)
	Count(ctx context.Context, datasetID int64) (int, error)
	DistinctMaterials(ctx context.Context, datasetID int64) ([]string, error)
	DistinctProperties(ctx context.Context, datasetID int64) ([]string, error)
}

type materialRecordRepository struct {
	db *database.DB
}

// NewMaterialRecordRepository creates a new MaterialRecordRepository.
func NewMaterialRecordRepository(db *database.DB) MaterialRecordRepository {
	return &materialRecordRepository{db: db}
}

var _ MaterialRecordRepository = (*materialRecordRepository)(nil)

var recordCopyColumns = []string{
	"dataset_id", "row_number", "material_name", "chemical_formula", "structure_type",
	"composition_method", "property_name", "property_value", "property_unit",
	"temperature", "pressure", "data_source", "uncertainty", "description",
}

const recordSelectColumns = `
	id, dataset_id, row_number, material_name, chemical_formula, structure_type,
	composition_method, property_name, property_value, property_unit,
	temperature, pressure, data_source, uncertainty, description, created_at`

func (r *materialRecordRepository) ReplaceAll(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error) {
	var inserted int64
	err := r.db.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.Querier(ctx).Exec(ctx,
			`DELETE FROM material_records WHERE dataset_id = $1`, datasetID); err != nil {
			return fmt.Errorf("failed to delete existing records: %w", err)
		}
		n, err := r.copyRecords(ctx, datasetID, records)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *materialRecordRepository) AppendBatch(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error) {
	var inserted int64
	err := r.db.RunInTx(ctx, func(ctx context.Context) error {
		n, err := r.copyRecords(ctx, datasetID, records)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *materialRecordRepository) copyRecords(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	n, err := r.db.Querier(ctx).CopyFrom(ctx,
		pgx.Identifier{"material_records"},
		recordCopyColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := &records[i]
			return []any{
				datasetID,
				rec.RowNumber,
				rec.MaterialName,
				rec.ChemicalFormula,
				rec.StructureType,
				rec.CompositionMethod,
				rec.PropertyName,
				rec.PropertyValue,
				rec.PropertyUnit,
				rec.Temperature,
				rec.Pressure,
				dataSourceValue(rec.DataSource),
				rec.Uncertainty,
				rec.Description,
			}, nil
		}),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("dataset %d does not exist: %w", datasetID, err)
		}
		return 0, fmt.Errorf("failed to insert records: %w", err)
	}
	return n, nil
}

func (r *materialRecordRepository) Query(ctx context.Context, datasetID int64, filter models.RecordFilter) (*models.RecordPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 100
	}

	where := `WHERE dataset_id = $1`
	args := []any{datasetID}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where += ` AND (material_name ILIKE $2 OR chemical_formula ILIKE $2)`
		args = append(args, "%"+escapeLike(search)+"%")
	}

	q := r.db.Querier(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM material_records `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	pageQuery := fmt.Sprintf(`SELECT %s FROM material_records %s
		ORDER BY row_number, id
		LIMIT %d OFFSET %d`, recordSelectColumns, where, filter.PerPage, offset)

	records, err := r.queryRecords(ctx, pageQuery, args...)
	if err != nil {
		return nil, err
	}

	return &models.RecordPage{
		Records:    records,
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: models.TotalPagesFor(total, filter.PerPage),
	}, nil
}

func (r *materialRecordRepository) ListByDataset(ctx context.Context, datasetID int64) ([]models.MaterialRecord, error) {
	query := `SELECT ` + recordSelectColumns + ` FROM material_records
		WHERE dataset_id = $1
		ORDER BY row_number, id`
	return r.queryRecords(ctx, query, datasetID)
}

func (r *materialRecordRepository) queryRecords(ctx context.Context, query string, args ...any) ([]models.MaterialRecord, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]models.MaterialRecord, 0)
	for rows.Next() {
		rec, err := scanMaterialRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func (r *materialRecordRepository) Count(ctx context.Context, datasetID int64) (int, error) {
	var n int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM material_records WHERE dataset_id = $1`, datasetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *materialRecordRepository) DistinctMaterials(ctx context.Context, datasetID int64) ([]string, error) {
	return r.distinct(ctx, "material_name", datasetID)
}

func (r *materialRecordRepository) DistinctProperties(ctx context.Context, datasetID int64) ([]string, error) {
	return r.distinct(ctx, "property_name", datasetID)
}

// distinct is only called with fixed column names, never user input.
func (r *materialRecordRepository) distinct(ctx context.Context, column string, datasetID int64) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM material_records WHERE dataset_id = $1 ORDER BY 1`, column)

	rows, err := r.db.Querier(ctx).Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", column, err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", column, err)
	}
	return values, nil
}

func scanMaterialRecord(row pgx.Row) (*models.MaterialRecord, error) {
	var rec models.MaterialRecord
	var dataSource *string
	err := row.Scan(
		&rec.ID,
		&rec.DatasetID,
		&rec.RowNumber,
		&rec.MaterialName,
		&rec.ChemicalFormula,
		&rec.StructureType,
		&rec.CompositionMethod,
		&rec.PropertyName,
		&rec.PropertyValue,
		&rec.PropertyUnit,
		&rec.Temperature,
		&rec.Pressure,
		&dataSource,
		&rec.Uncertainty,
		&rec.Description,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dataSource != nil {
		ds := models.DataSource(*dataSource)
		rec.DataSource = &ds
	}
	return &rec, nil
}

func dataSourceValue(ds *models.DataSource) *string {
	if ds == nil {
		return nil
	}
	s := string(*ds)
	return &s
}

// escapeLike escapes LIKE wildcards so a search term matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
