// Package ingestion validates and parses uploaded materials CSV files into
// typed records. Everything here is pure: no storage or network access.
package ingestion

import (
	"fmt"
	"strings"
)

// Column names recognised in an upload.
const (
	ColMaterialName      = "material_name"
	ColChemicalFormula   = "chemical_formula"
	ColStructureType     = "structure_type"
	ColCompositionMethod = "composition_method"
	ColPropertyName      = "property_name"
	ColPropertyValue     = "property_value"
	ColPropertyUnit      = "property_unit"
	ColTemperature       = "temperature"
	ColPressure          = "pressure"
	ColDataSource        = "data_source"
	ColUncertainty       = "uncertainty"
	ColDescription       = "description"
)

// RequiredColumns must all be present in the header row.
var RequiredColumns = []string{ColMaterialName, ColPropertyName, ColPropertyValue}

// OptionalColumns are understood but may be absent.
var OptionalColumns = []string{
	ColChemicalFormula, ColStructureType, ColCompositionMethod, ColPropertyUnit,
	ColTemperature, ColPressure, ColDataSource, ColUncertainty, ColDescription,
}

// ColumnValidation is the outcome of checking a header row.
type ColumnValidation struct {
	Valid            bool     `json:"valid"`
	MissingRequired  []string `json:"missing_required"`
	ExtraColumns     []string `json:"extra_columns"`
	// DuplicateColumns lists headers that appear more than once. Only the
	// first column with a given name is read.
	DuplicateColumns []string `json:"duplicate_columns"`
	Message          string   `json:"message"`
}

// SchemaError reports a header row that lacks required columns.
type SchemaError struct {
	Missing []string
	Extra   []string
	Message string
}

func (e *SchemaError) Error() string {
	return e.Message
}

// NormalizeHeaders trims whitespace and strips a UTF-8 byte order mark from
// the first header, as written by spreadsheet exports.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// ValidateColumns classifies headers against the required and optional sets.
// Extra columns do not make the header invalid; they are ignored on ingest.
func ValidateColumns(headers []string) ColumnValidation {
	present := make(map[string]bool, len(headers))
	for _, h := range NormalizeHeaders(headers) {
		present[h] = true
	}

	known := make(map[string]bool, len(RequiredColumns)+len(OptionalColumns))
	for _, c := range RequiredColumns {
		known[c] = true
	}
	for _, c := range OptionalColumns {
		known[c] = true
	}

	result := ColumnValidation{
		MissingRequired:  []string{},
		ExtraColumns:     []string{},
		DuplicateColumns: []string{},
	}
	for _, c := range RequiredColumns {
		if !present[c] {
			result.MissingRequired = append(result.MissingRequired, c)
		}
	}
	seen := make(map[string]int)
	for _, h := range NormalizeHeaders(headers) {
		seen[h]++
		switch {
		case seen[h] == 2:
			result.DuplicateColumns = append(result.DuplicateColumns, h)
		case seen[h] == 1 && !known[h]:
			result.ExtraColumns = append(result.ExtraColumns, h)
		}
	}

	result.Valid = len(result.MissingRequired) == 0
	result.Message = validationMessage(result)
	return result
}

func validationMessage(v ColumnValidation) string {
	var parts []string
	if len(v.MissingRequired) > 0 {
		parts = append(parts, fmt.Sprintf("Missing required columns: %s", strings.Join(v.MissingRequired, ", ")))
	}
	if len(v.ExtraColumns) > 0 {
		parts = append(parts, fmt.Sprintf("Unknown columns (will be ignored): %s", strings.Join(v.ExtraColumns, ", ")))
	}
	if len(v.DuplicateColumns) > 0 {
		parts = append(parts, fmt.Sprintf("Duplicate columns (first occurrence used): %s", strings.Join(v.DuplicateColumns, ", ")))
	}
	if len(parts) == 0 {
		return "CSV structure is valid"
	}
	return strings.Join(parts, "; ")
}

// SchemaErrorFrom converts a failed validation into a SchemaError.
// It returns nil when v is valid.
func SchemaErrorFrom(v ColumnValidation) *SchemaError {
	if v.Valid {
		return nil
	}
	return &SchemaError{
		Missing: v.MissingRequired,
		Extra:   v.ExtraColumns,
		Message: v.Message,
	}
}
