package models

import (
	"strings"
	"time"
)

// DataSource classifies where a property value came from.
type DataSource string

const (
	DataSourceExperimental  DataSource = "experimental"
	DataSourceComputational DataSource = "computational"
	DataSourceLiterature    DataSource = "literature"
	DataSourceDatabase      DataSource = "database"
	DataSourceOther         DataSource = "other"
)

// ValidDataSources lists all accepted data source values.
var ValidDataSources = []DataSource{
	DataSourceExperimental,
	DataSourceComputational,
	DataSourceLiterature,
	DataSourceDatabase,
	DataSourceOther,
}

// ParseDataSource matches s case-insensitively against the known data sources.
func ParseDataSource(s string) (DataSource, bool) {
	normalized := DataSource(strings.ToLower(strings.TrimSpace(s)))
	for _, ds := range ValidDataSources {
		if ds == normalized {
			return ds, true
		}
	}
	return "", false
}

// MaterialRecord is one ingested row of materials-property data.
// PropertyValue keeps the original text so markers like "N/A" survive.
type MaterialRecord struct {
	ID                int64       `json:"id,omitempty"`
	DatasetID         int64       `json:"dataset_id,omitempty"`
	RowNumber         int         `json:"row_number"`
	MaterialName      string      `json:"material_name"`
	ChemicalFormula   *string     `json:"chemical_formula,omitempty"`
	StructureType     *string     `json:"structure_type,omitempty"`
	CompositionMethod *string     `json:"composition_method,omitempty"`
	PropertyName      string      `json:"property_name"`
	PropertyValue     string      `json:"property_value"`
	PropertyUnit      *string     `json:"property_unit,omitempty"`
	Temperature       *float64    `json:"temperature,omitempty"`
	Pressure          *float64    `json:"pressure,omitempty"`
	DataSource        *DataSource `json:"data_source,omitempty"`
	Uncertainty       *float64    `json:"uncertainty,omitempty"`
	Description       *string     `json:"description,omitempty"`
	CreatedAt         time.Time   `json:"created_at,omitempty"`
}

// MissingRequiredFields returns the names of required fields that are blank.
func (r *MaterialRecord) MissingRequiredFields() []string {
	var missing []string
	if strings.TrimSpace(r.MaterialName) == "" {
		missing = append(missing, "material_name")
	}
	if strings.TrimSpace(r.PropertyName) == "" {
		missing = append(missing, "property_name")
	}
	if strings.TrimSpace(r.PropertyValue) == "" {
		missing = append(missing, "property_value")
	}
	return missing
}

// RecordKey identifies a record across versions of a dataset.
type RecordKey struct {
	MaterialName string `json:"material_name"`
	PropertyName string `json:"property_name"`
}

// Key returns the identity used when comparing record sets.
func (r *MaterialRecord) Key() RecordKey {
	return RecordKey{MaterialName: r.MaterialName, PropertyName: r.PropertyName}
}

// SameContent reports whether two records carry identical data, ignoring
// storage identity (ID, dataset, row position and timestamps).
func (r *MaterialRecord) SameContent(o *MaterialRecord) bool {
	return r.MaterialName == o.MaterialName &&
		r.PropertyName == o.PropertyName &&
		r.PropertyValue == o.PropertyValue &&
		eqPtr(r.ChemicalFormula, o.ChemicalFormula) &&
		eqPtr(r.StructureType, o.StructureType) &&
		eqPtr(r.CompositionMethod, o.CompositionMethod) &&
		eqPtr(r.PropertyUnit, o.PropertyUnit) &&
		eqPtr(r.Temperature, o.Temperature) &&
		eqPtr(r.Pressure, o.Pressure) &&
		eqPtr(r.DataSource, o.DataSource) &&
		eqPtr(r.Uncertainty, o.Uncertainty) &&
		eqPtr(r.Description, o.Description)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RecordFilter selects a page of records, optionally filtered by a
// case-insensitive substring of material name or chemical formula.
type RecordFilter struct {
	Search  string
	Page    int
	PerPage int
}

// RecordPage is one page of records plus the totals needed to paginate.
type RecordPage struct {
	Records    []MaterialRecord `json:"records"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	TotalPages int              `json:"total_pages"`
}

// TotalPagesFor returns ceil(total/perPage), or 0 when perPage is not positive.
func TotalPagesFor(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
