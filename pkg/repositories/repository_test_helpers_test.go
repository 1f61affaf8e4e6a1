//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/testhelpers"
)

// repoTestContext holds the repositories under test and a clean database.
type repoTestContext struct {
	t        *testing.T
	testDB   *testhelpers.TestDB
	datasets DatasetRepository
	records  MaterialRecordRepository
	versions DatasetVersionRepository
	ownerID  uuid.UUID
}

func setupRepoTest(t *testing.T) *repoTestContext {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	testDB.TruncateAll(t)

	return &repoTestContext{
		t:        t,
		testDB:   testDB,
		datasets: NewDatasetRepository(testDB.DB),
		records:  NewMaterialRecordRepository(testDB.DB),
		versions: NewDatasetVersionRepository(testDB.DB),
		ownerID:  uuid.MustParse("00000000-0000-0000-0000-000000000042"),
	}
}

func (tc *repoTestContext) createDataset(title string) *models.Dataset {
	tc.t.Helper()
	d := &models.Dataset{OwnerID: tc.ownerID, Title: title}
	require.NoError(tc.t, tc.datasets.Create(context.Background(), d))
	return d
}

func makeRecords(n int, material string) []models.MaterialRecord {
	records := make([]models.MaterialRecord, n)
	for i := range records {
		records[i] = models.MaterialRecord{
			RowNumber:     i + 2,
			MaterialName:  fmt.Sprintf("%s-%03d", material, i),
			PropertyName:  "density",
			PropertyValue: fmt.Sprintf("%d.5", i),
		}
	}
	return records
}
