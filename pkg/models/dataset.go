// Package models contains domain types for the materials hub.
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/materialshub/materials-hub/pkg/apperrors"
)

// PublicationType classifies the publication a dataset belongs to.
type PublicationType string

const (
	PublicationTypeNone                  PublicationType = "none"
	PublicationTypeArticle               PublicationType = "article"
	PublicationTypeBook                  PublicationType = "book"
	PublicationTypeSection               PublicationType = "section"
	PublicationTypeConferencePaper       PublicationType = "conferencepaper"
	PublicationTypeDataManagementPlan    PublicationType = "datamanagementplan"
	PublicationTypePatent                PublicationType = "patent"
	PublicationTypePreprint              PublicationType = "preprint"
	PublicationTypeDeliverable           PublicationType = "deliverable"
	PublicationTypeMilestone             PublicationType = "milestone"
	PublicationTypeProposal              PublicationType = "proposal"
	PublicationTypeReport                PublicationType = "report"
	PublicationTypeSoftwareDocumentation PublicationType = "softwaredocumentation"
	PublicationTypeTechnicalNote         PublicationType = "technicalnote"
	PublicationTypeThesis                PublicationType = "thesis"
	PublicationTypeWorkingPaper          PublicationType = "workingpaper"
	PublicationTypeAnnotationCollection  PublicationType = "annotationcollection"
	PublicationTypeTaxonomicTreatment    PublicationType = "taxonomictreatment"
	PublicationTypeOther                 PublicationType = "other"
)

var validPublicationTypes = map[PublicationType]bool{
	PublicationTypeNone: true, PublicationTypeArticle: true, PublicationTypeBook: true,
	PublicationTypeSection: true, PublicationTypeConferencePaper: true,
	PublicationTypeDataManagementPlan: true, PublicationTypePatent: true,
	PublicationTypePreprint: true, PublicationTypeDeliverable: true,
	PublicationTypeMilestone: true, PublicationTypeProposal: true,
	PublicationTypeReport: true, PublicationTypeSoftwareDocumentation: true,
	PublicationTypeTechnicalNote: true, PublicationTypeThesis: true,
	PublicationTypeWorkingPaper: true, PublicationTypeAnnotationCollection: true,
	PublicationTypeTaxonomicTreatment: true, PublicationTypeOther: true,
}

// IsValid reports whether p is a known publication type.
func (p PublicationType) IsValid() bool {
	return validPublicationTypes[p]
}

// Author is a dataset author as stored in the authors JSONB column.
type Author struct {
	Name        string  `json:"name"`
	Affiliation *string `json:"affiliation,omitempty"`
	ORCID       *string `json:"orcid,omitempty"`
}

// Dataset is the root aggregate: a CSV source, its parsed records and its
// version history.
type Dataset struct {
	ID              int64           `json:"id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	PublicationType PublicationType `json:"publication_type"`
	PublicationDOI  *string         `json:"publication_doi,omitempty"`
	DatasetDOI      *string         `json:"dataset_doi,omitempty"`
	Tags            []string        `json:"tags"`
	Authors         []Author        `json:"authors"`
	CSVFilePath     *string         `json:"csv_file_path,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// Records is populated only when a caller loads them explicitly.
	Records []MaterialRecord `json:"-"`
}

// MaterialsCount returns the number of loaded records.
func (d *Dataset) MaterialsCount() int {
	return len(d.Records)
}

// UniqueMaterials returns the distinct material names, sorted.
func (d *Dataset) UniqueMaterials() []string {
	return distinct(d.Records, func(r *MaterialRecord) string { return r.MaterialName })
}

// UniqueProperties returns the distinct property names, sorted.
func (d *Dataset) UniqueProperties() []string {
	return distinct(d.Records, func(r *MaterialRecord) string { return r.PropertyName })
}

func distinct(records []MaterialRecord, field func(*MaterialRecord) string) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0)
	for i := range records {
		v := field(&records[i])
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ErrNotPublishable is wrapped by PublicationError.
var ErrNotPublishable = errors.New("dataset is not publishable")

// PublicationError lists every reason a dataset fails publication checks.
type PublicationError struct {
	Problems []string
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotPublishable, strings.Join(e.Problems, "; "))
}

// Is matches ErrNotPublishable and apperrors.ErrInvalidInput.
func (e *PublicationError) Is(target error) bool {
	return target == ErrNotPublishable || target == apperrors.ErrInvalidInput
}

// Validate checks the dataset is ready for publication. A dataset without
// records is a valid draft but cannot be published. Records must be loaded.
func (d *Dataset) Validate() error {
	var problems []string
	if d.CSVFilePath == nil || *d.CSVFilePath == "" {
		problems = append(problems, "no CSV file uploaded")
	}
	if len(d.Records) == 0 {
		problems = append(problems, "dataset has no records")
	}
	for i := range d.Records {
		if missing := d.Records[i].MissingRequiredFields(); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("record at row %d is missing %s",
				d.Records[i].RowNumber, strings.Join(missing, ", ")))
		}
	}
	if len(problems) > 0 {
		return &PublicationError{Problems: problems}
	}
	return nil
}

// MetadataSnapshot copies the dataset's descriptive metadata.
// Slices are cloned so later edits to the dataset cannot reach the snapshot.
func (d *Dataset) MetadataSnapshot() MetadataSnapshot {
	snap := MetadataSnapshot{
		Title:           d.Title,
		Description:     d.Description,
		PublicationType: d.PublicationType,
		PublicationDOI:  cloneString(d.PublicationDOI),
		DatasetDOI:      cloneString(d.DatasetDOI),
		Tags:            append([]string{}, d.Tags...),
		Authors:         make([]Author, 0, len(d.Authors)),
	}
	for _, a := range d.Authors {
		snap.Authors = append(snap.Authors, Author{
			Name:        a.Name,
			Affiliation: cloneString(a.Affiliation),
			ORCID:       cloneString(a.ORCID),
		})
	}
	return snap
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// DatasetStatistics is the derived read view exposed by the statistics endpoint.
type DatasetStatistics struct {
	DatasetID        int64    `json:"dataset_id"`
	VersionNumber    int      `json:"version_number"` // latest version the figures reflect; 0 before the first upload
	TotalRecords     int      `json:"total_records"`
	UniqueMaterials  []string `json:"unique_materials"`
	UniqueProperties []string `json:"unique_properties"`
	MaterialsCount   int      `json:"materials_count"`
	PropertiesCount  int      `json:"properties_count"`
	CSVFilePath      *string  `json:"csv_file_path"`
}
