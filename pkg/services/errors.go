package services

import (
	"errors"
	"fmt"

	"github.com/materialshub/materials-hub/pkg/ingestion"
)

// ErrNoValidRows rejects an upload in which every data row failed to parse.
var ErrNoValidRows = errors.New("no valid rows in CSV")

// NoValidRowsError carries the row failures behind ErrNoValidRows.
type NoValidRowsError struct {
	Failed []ingestion.RowError
}

func (e *NoValidRowsError) Error() string {
	return fmt.Sprintf("%s: %d row(s) failed", ErrNoValidRows, len(e.Failed))
}

func (e *NoValidRowsError) Is(target error) bool {
	return target == ErrNoValidRows
}

// PersistenceError reports a failure while storing records or the version.
// The transaction has been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ingestion failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
