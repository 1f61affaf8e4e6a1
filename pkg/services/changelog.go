package services

import (
	"fmt"
	"sort"

	"github.com/materialshub/materials-hub/pkg/models"
)

type occurrenceKey struct {
	key models.RecordKey
	n   int
}

// indexRecords keys records by (material, property, occurrence) so duplicate
// material/property pairs are matched positionally rather than collapsed.
func indexRecords(records []models.MaterialRecord) (map[occurrenceKey]*models.MaterialRecord, []occurrenceKey) {
	sorted := make([]*models.MaterialRecord, len(records))
	for i := range records {
		sorted[i] = &records[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RowNumber < sorted[j].RowNumber })

	index := make(map[occurrenceKey]*models.MaterialRecord, len(records))
	order := make([]occurrenceKey, 0, len(records))
	counts := make(map[models.RecordKey]int)
	for _, r := range sorted {
		k := r.Key()
		ok := occurrenceKey{key: k, n: counts[k]}
		counts[k]++
		index[ok] = r
		order = append(order, ok)
	}
	return index, order
}

// CompareRecords returns the record-level difference from oldRecords to newRecords.
func CompareRecords(oldRecords, newRecords []models.MaterialRecord) models.RecordComparison {
	oldIdx, oldOrder := indexRecords(oldRecords)
	newIdx, newOrder := indexRecords(newRecords)

	cmp := models.RecordComparison{
		Added:    []models.MaterialRecord{},
		Deleted:  []models.MaterialRecord{},
		Modified: []models.RecordModification{},
	}
	for _, k := range newOrder {
		newRec := newIdx[k]
		oldRec, ok := oldIdx[k]
		switch {
		case !ok:
			cmp.Added = append(cmp.Added, *newRec)
		case oldRec.SameContent(newRec):
			cmp.UnchangedCount++
		default:
			cmp.Modified = append(cmp.Modified, models.RecordModification{Old: *oldRec, New: *newRec})
		}
	}
	for _, k := range oldOrder {
		if _, ok := newIdx[k]; !ok {
			cmp.Deleted = append(cmp.Deleted, *oldIdx[k])
		}
	}
	return cmp
}

// ComputeChangelog summarises what an ingestion changed relative to the
// previous version. previousVersion is 0 for the first ingestion.
func ComputeChangelog(previousVersion int, oldRecords, newRecords []models.MaterialRecord, failedRows int) models.Changelog {
	cmp := CompareRecords(oldRecords, newRecords)
	cl := models.Changelog{
		PreviousVersion:      previousVersion,
		PreviousRecordsCount: len(oldRecords),
		RecordsCount:         len(newRecords),
		Added:                len(cmp.Added),
		Removed:              len(cmp.Deleted),
		Modified:             len(cmp.Modified),
		Unchanged:            cmp.UnchangedCount,
		FailedRows:           failedRows,
	}
	if previousVersion == 0 {
		cl.Summary = fmt.Sprintf("Initial upload with %d records", cl.RecordsCount)
	} else {
		cl.Summary = fmt.Sprintf("%d added, %d removed, %d modified, %d unchanged",
			cl.Added, cl.Removed, cl.Modified, cl.Unchanged)
	}
	return cl
}
