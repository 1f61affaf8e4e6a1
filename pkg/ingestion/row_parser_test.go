package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/materials-hub/pkg/models"
)

func TestParseRow_FullRow(t *testing.T) {
	row := map[string]string{
		"material_name":      "  Silicon ",
		"chemical_formula":   "Si",
		"structure_type":     "diamond",
		"composition_method": "",
		"property_name":      "band_gap",
		"property_value":     "1.12",
		"property_unit":      "eV",
		"temperature":        "300",
		"pressure":           "101325",
		"data_source":        "Experimental",
		"uncertainty":        "0.01",
		"description":        "room temperature",
	}

	record, warnings, rowErr := ParseRow(row, 2)
	require.Nil(t, rowErr)
	assert.Empty(t, warnings)

	assert.Equal(t, 2, record.RowNumber)
	assert.Equal(t, "Silicon", record.MaterialName)
	assert.Equal(t, "Si", *record.ChemicalFormula)
	assert.Nil(t, record.CompositionMethod, "empty optional string becomes null")
	assert.Equal(t, "1.12", record.PropertyValue)
	assert.InDelta(t, 300.0, *record.Temperature, 1e-9)
	assert.InDelta(t, 101325.0, *record.Pressure, 1e-9)
	assert.Equal(t, models.DataSourceExperimental, *record.DataSource)
	assert.InDelta(t, 0.01, *record.Uncertainty, 1e-9)
}

func TestParseRow_NonNumericPropertyValueIsKept(t *testing.T) {
	row := map[string]string{"material_name": "Fe", "property_name": "phase", "property_value": "N/A"}

	record, warnings, rowErr := ParseRow(row, 5)
	require.Nil(t, rowErr)
	assert.Empty(t, warnings)
	assert.Equal(t, "N/A", record.PropertyValue)
}

func TestParseRow_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name       string
		row        map[string]string
		wantFields []string
	}{
		{
			name:       "empty property_value",
			row:        map[string]string{"material_name": "Si", "property_name": "density", "property_value": ""},
			wantFields: []string{"property_value"},
		},
		{
			name:       "whitespace material_name",
			row:        map[string]string{"material_name": "   ", "property_name": "density", "property_value": "2.3"},
			wantFields: []string{"material_name"},
		},
		{
			name:       "absent keys",
			row:        map[string]string{"property_value": "2.3"},
			wantFields: []string{"material_name", "property_name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, warnings, rowErr := ParseRow(tt.row, 7)
			assert.Nil(t, record)
			assert.Nil(t, warnings)
			require.NotNil(t, rowErr)
			assert.Equal(t, 7, rowErr.Row)
			assert.Equal(t, tt.wantFields, rowErr.Fields)
			for _, f := range tt.wantFields {
				assert.Contains(t, rowErr.Reason, f)
			}
			assert.Contains(t, rowErr.Error(), "row 7")
		})
	}
}

func TestParseRow_InvalidOptionalValuesBecomeNull(t *testing.T) {
	row := map[string]string{
		"material_name":  "Cu",
		"property_name":  "conductivity",
		"property_value": "5.96e7",
		"temperature":    "room",
		"pressure":       "NaN",
		"uncertainty":    "+Inf",
		"data_source":    "guesswork",
	}

	record, warnings, rowErr := ParseRow(row, 3)
	require.Nil(t, rowErr)
	require.NotNil(t, record)

	assert.Nil(t, record.Temperature)
	assert.Nil(t, record.Pressure)
	assert.Nil(t, record.Uncertainty)
	assert.Nil(t, record.DataSource)

	require.Len(t, warnings, 4)
	fields := []string{warnings[0].Field, warnings[1].Field, warnings[2].Field, warnings[3].Field}
	assert.Equal(t, []string{"temperature", "pressure", "uncertainty", "data_source"}, fields)
	assert.Equal(t, "room", warnings[0].Value)
	assert.Equal(t, 3, warnings[3].Row)
}

func TestParseRow_LongWarningValueIsTruncated(t *testing.T) {
	row := map[string]string{
		"material_name":  "Cu",
		"property_name":  "conductivity",
		"property_value": "5.96e7",
		"temperature":    strings.Repeat("x", 200),
	}

	_, warnings, rowErr := ParseRow(row, 2)
	require.Nil(t, rowErr)
	require.Len(t, warnings, 1)
	assert.Equal(t, strings.Repeat("x", 64)+"...", warnings[0].Value)
}

func TestParseRow_ScientificAndNegativeNumbers(t *testing.T) {
	row := map[string]string{
		"material_name": "He", "property_name": "boiling_point", "property_value": "4.2",
		"temperature": "-1.5e2", "pressure": " 1E5 ",
	}

	record, warnings, rowErr := ParseRow(row, 2)
	require.Nil(t, rowErr)
	assert.Empty(t, warnings)
	assert.InDelta(t, -150.0, *record.Temperature, 1e-9)
	assert.InDelta(t, 100000.0, *record.Pressure, 1e-9)
}
