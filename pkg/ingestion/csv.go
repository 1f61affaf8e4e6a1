package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/materialshub/materials-hub/pkg/models"
)

// ParseResult holds every outcome of parsing one upload.
type ParseResult struct {
	Headers   []string
	Columns   ColumnValidation
	Records   []models.MaterialRecord
	Failed    []RowError
	Warnings  []FieldWarning
	TotalRows int
}

// ParseCSV reads the header, rejects it with a *SchemaError when required
// columns are missing, then parses every data row.
//
// Row numbers are CSV line numbers: the header is row 1. Blank lines are
// skipped. A line with broken quoting becomes a RowError for that line and
// parsing continues. Only read failures of r itself abort with an error.
func ParseCSV(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rawHeaders, err := reader.Read()
	if errors.Is(err, io.EOF) {
		v := ValidateColumns(nil)
		return nil, &SchemaError{Missing: v.MissingRequired, Message: "CSV file is empty"}
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &SchemaError{Message: fmt.Sprintf("Could not read CSV header: %v", parseErr.Err)}
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	headers := NormalizeHeaders(rawHeaders)
	validation := ValidateColumns(headers)
	if schemaErr := SchemaErrorFrom(validation); schemaErr != nil {
		return nil, schemaErr
	}

	result := &ParseResult{
		Headers: headers,
		Columns: validation,
	}

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to read CSV: %w", err)
			}
			result.TotalRows++
			result.Failed = append(result.Failed, RowError{
				Row:    parseErr.StartLine,
				Reason: fmt.Sprintf("malformed CSV: %v", parseErr.Err),
			})
			continue
		}

		line, _ := reader.FieldPos(0)
		result.TotalRows++

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i >= len(fields) {
				break
			}
			if _, dup := row[h]; !dup {
				row[h] = fields[i]
			}
		}

		record, warnings, rowErr := ParseRow(row, line)
		if rowErr != nil {
			result.Failed = append(result.Failed, *rowErr)
			continue
		}
		result.Records = append(result.Records, *record)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}
