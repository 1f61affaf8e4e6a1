// Package export writes dataset records in columnar formats for download.
package export

import (
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"

	"github.com/materialshub/materials-hub/pkg/models"
)

// ParquetContentType is the media type served for Parquet downloads.
const ParquetContentType = "application/vnd.apache.parquet"

// RecordRow is the Parquet schema of an exported material record.
type RecordRow struct {
	RowNumber         int32    `parquet:"row_number"`
	MaterialName      string   `parquet:"material_name"`
	ChemicalFormula   *string  `parquet:"chemical_formula,optional"`
	StructureType     *string  `parquet:"structure_type,optional"`
	CompositionMethod *string  `parquet:"composition_method,optional"`
	PropertyName      string   `parquet:"property_name"`
	PropertyValue     string   `parquet:"property_value"`
	PropertyUnit      *string  `parquet:"property_unit,optional"`
	Temperature       *float64 `parquet:"temperature,optional"`
	Pressure          *float64 `parquet:"pressure,optional"`
	DataSource        *string  `parquet:"data_source,optional"`
	Uncertainty       *float64 `parquet:"uncertainty,optional"`
	Description       *string  `parquet:"description,optional"`
}

// NewRecordRow converts a MaterialRecord to its Parquet row.
func NewRecordRow(r *models.MaterialRecord) RecordRow {
	row := RecordRow{
		RowNumber:         int32(r.RowNumber),
		MaterialName:      r.MaterialName,
		ChemicalFormula:   r.ChemicalFormula,
		StructureType:     r.StructureType,
		CompositionMethod: r.CompositionMethod,
		PropertyName:      r.PropertyName,
		PropertyValue:     r.PropertyValue,
		PropertyUnit:      r.PropertyUnit,
		Temperature:       r.Temperature,
		Pressure:          r.Pressure,
		Uncertainty:       r.Uncertainty,
		Description:       r.Description,
	}
	if r.DataSource != nil {
		ds := string(*r.DataSource)
		row.DataSource = &ds
	}
	return row
}

// WriteParquet writes records to w as a single Parquet file.
func WriteParquet(w io.Writer, records []models.MaterialRecord) error {
	writer := parquet.NewWriter(w, parquet.SchemaOf(new(RecordRow)))

	for i := range records {
		if err := writer.Write(NewRecordRow(&records[i])); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write parquet row %d: %w", records[i].RowNumber, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}
