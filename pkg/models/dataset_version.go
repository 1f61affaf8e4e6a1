package models

import (
	"time"

	"github.com/google/uuid"
)

// MetadataSnapshot is the dataset metadata copied into a version.
type MetadataSnapshot struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	PublicationType PublicationType `json:"publication_type"`
	PublicationDOI  *string         `json:"publication_doi"`
	DatasetDOI      *string         `json:"dataset_doi"`
	Tags            []string        `json:"tags"`
	Authors         []Author        `json:"authors"`
}

// Changelog describes what changed between a version and its predecessor.
type Changelog struct {
	PreviousVersion      int    `json:"previous_version"`
	PreviousRecordsCount int    `json:"previous_records_count"`
	RecordsCount         int    `json:"records_count"`
	Added                int    `json:"added"`
	Removed              int    `json:"removed"`
	Modified             int    `json:"modified"`
	Unchanged            int    `json:"unchanged"`
	FailedRows           int    `json:"failed_rows"`
	Summary              string `json:"summary"`
}

// DatasetVersion is an immutable snapshot taken after a successful ingestion.
type DatasetVersion struct {
	ID               int64            `json:"id"`
	DatasetID        int64            `json:"dataset_id"`
	VersionNumber    int              `json:"version_number"`
	CreatedAt        time.Time        `json:"created_at"`
	CreatedBy        *uuid.UUID       `json:"created_by,omitempty"`
	CSVSnapshotPath  string           `json:"csv_snapshot_path"`
	MetadataSnapshot MetadataSnapshot `json:"metadata_snapshot"`
	Changelog        Changelog        `json:"changelog"`
	RecordsCount     int              `json:"records_count"`
}

// MetadataFieldChange is one entry of a metadata comparison.
type MetadataFieldChange struct {
	Old     any  `json:"old"`
	New     any  `json:"new"`
	Changed bool `json:"changed"`
}

// RecordModification pairs a record with its replacement in a later version.
type RecordModification struct {
	Old MaterialRecord `json:"old"`
	New MaterialRecord `json:"new"`
}

// RecordComparison is the record-level difference between two versions.
type RecordComparison struct {
	Added          []MaterialRecord     `json:"added_records"`
	Deleted        []MaterialRecord     `json:"deleted_records"`
	Modified       []RecordModification `json:"modified_records"`
	UnchangedCount int                  `json:"unchanged_records_count"`
}

// VersionComparison compares two versions of the same dataset.
type VersionComparison struct {
	DatasetID   int64                          `json:"dataset_id"`
	FromVersion int                            `json:"from_version"`
	ToVersion   int                            `json:"to_version"`
	Metadata    map[string]MetadataFieldChange `json:"metadata"`
	Records     RecordComparison               `json:"records"`
}
