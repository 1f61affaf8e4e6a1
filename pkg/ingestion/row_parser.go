package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/materialshub/materials-hub/pkg/logging"
	"github.com/materialshub/materials-hub/pkg/models"
)

// RowError rejects a single row. Other rows of the same upload are unaffected.
type RowError struct {
	Row    int      `json:"row"`
	Fields []string `json:"fields,omitempty"`
	Reason string   `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// FieldWarning records an optional value that was dropped (set to null)
// because it could not be converted. The row itself is kept.
type FieldWarning struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// ParseRow converts one raw row into a MaterialRecord.
//
// Required fields that are absent or blank reject the row, naming every such
// field. Optional numeric fields that do not parse as finite numbers, and
// data_source values outside the known set, become null with a FieldWarning.
func ParseRow(row map[string]string, rowNumber int) (*models.MaterialRecord, []FieldWarning, *RowError) {
	get := func(col string) string {
		return strings.TrimSpace(row[col])
	}

	var missing []string
	for _, col := range RequiredColumns {
		if get(col) == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &RowError{
			Row:    rowNumber,
			Fields: missing,
			Reason: fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", ")),
		}
	}

	record := &models.MaterialRecord{
		RowNumber:         rowNumber,
		MaterialName:      get(ColMaterialName),
		PropertyName:      get(ColPropertyName),
		PropertyValue:     get(ColPropertyValue),
		ChemicalFormula:   optionalString(get(ColChemicalFormula)),
		StructureType:     optionalString(get(ColStructureType)),
		CompositionMethod: optionalString(get(ColCompositionMethod)),
		PropertyUnit:      optionalString(get(ColPropertyUnit)),
		Description:       optionalString(get(ColDescription)),
	}

	var warnings []FieldWarning
	parseNumber := func(col string) *float64 {
		raw := get(col)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			warnings = append(warnings, FieldWarning{
				Row:    rowNumber,
				Field:  col,
				Value:  logging.TruncateString(raw, logging.MaxValueLogLength),
				Reason: "not a finite number; stored as null",
			})
			return nil
		}
		return &v
	}
	record.Temperature = parseNumber(ColTemperature)
	record.Pressure = parseNumber(ColPressure)
	record.Uncertainty = parseNumber(ColUncertainty)

	if raw := get(ColDataSource); raw != "" {
		if ds, ok := models.ParseDataSource(raw); ok {
			record.DataSource = &ds
		} else {
			warnings = append(warnings, FieldWarning{
				Row:    rowNumber,
				Field:  ColDataSource,
				Value:  logging.TruncateString(raw, logging.MaxValueLogLength),
				Reason: "unknown data source; stored as null",
			})
		}
	}

	return record, warnings, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
