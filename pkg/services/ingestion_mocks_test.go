package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/repositories"
	"github.com/materialshub/materials-hub/pkg/storage"
)

// ============================================================================
// In-memory state shared by the mock repositories
// ============================================================================

type memState struct {
	datasets map[int64]*models.Dataset
	records  map[int64][]models.MaterialRecord
	versions map[int64][]*models.DatasetVersion
	nextID   int64
}

func (s *memState) clone() *memState {
	c := &memState{
		datasets: make(map[int64]*models.Dataset, len(s.datasets)),
		records:  make(map[int64][]models.MaterialRecord, len(s.records)),
		versions: make(map[int64][]*models.DatasetVersion, len(s.versions)),
		nextID:   s.nextID,
	}
	for id, d := range s.datasets {
		cp := *d
		c.datasets[id] = &cp
	}
	for id, r := range s.records {
		c.records[id] = append([]models.MaterialRecord(nil), r...)
	}
	for id, v := range s.versions {
		c.versions[id] = append([]*models.DatasetVersion(nil), v...)
	}
	return c
}

// memDB is an in-memory stand-in for Postgres. RunInTx serialises
// transactions (like the dataset row lock) and restores a snapshot of the
// state when fn fails, which mirrors a rollback.
type memDB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *memState

	commitErr error
}

type memTxKey struct{}

func newMemDB() *memDB {
	return &memDB{state: &memState{
		datasets: make(map[int64]*models.Dataset),
		records:  make(map[int64][]models.MaterialRecord),
		versions: make(map[int64][]*models.DatasetVersion),
	}}
}

func (db *memDB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	saved := db.state.clone()
	db.mu.Unlock()

	err := fn(context.WithValue(ctx, memTxKey{}, true))
	if err == nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("failed to commit transaction: %w", ctx.Err())
		case db.commitErr != nil:
			err = fmt.Errorf("failed to commit transaction: %w", db.commitErr)
		}
	}
	if err != nil {
		db.mu.Lock()
		db.state = saved
		db.mu.Unlock()
		return err
	}
	return nil
}

// RunInSnapshot takes the same lock as RunInTx, so reads never observe a
// half-applied ingestion.
func (db *memDB) RunInSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, fn)
}

func (db *memDB) addDataset(title string) *models.Dataset {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.state.nextID++
	d := &models.Dataset{
		ID:              db.state.nextID,
		OwnerID:         uuid.New(),
		Title:           title,
		PublicationType: models.PublicationTypeNone,
		Tags:            []string{},
		Authors:         []models.Author{},
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	db.state.datasets[d.ID] = d
	return d
}

func (db *memDB) recordsOf(id int64) []models.MaterialRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.MaterialRecord(nil), db.state.records[id]...)
}

func (db *memDB) versionsOf(id int64) []*models.DatasetVersion {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*models.DatasetVersion(nil), db.state.versions[id]...)
}

func (db *memDB) datasetOf(id int64) *models.Dataset {
	db.mu.Lock()
	defer db.mu.Unlock()
	d := *db.state.datasets[id]
	return &d
}

// ============================================================================
// Mock repositories
// ============================================================================

type mockDatasetRepo struct {
	db        *memDB
	getErr    error
	updateErr error
	deleteErr error
}

var _ repositories.DatasetRepository = (*mockDatasetRepo)(nil)

func (m *mockDatasetRepo) Create(ctx context.Context, d *models.Dataset) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.state.nextID++
	d.ID = m.db.state.nextID
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.db.state.datasets[d.ID] = &cp
	return nil
}

func (m *mockDatasetRepo) GetByID(ctx context.Context, id int64) (*models.Dataset, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.state.datasets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDatasetRepo) GetForUpdate(ctx context.Context, id int64) (*models.Dataset, error) {
	if ctx.Value(memTxKey{}) == nil {
		return nil, errors.New("GetForUpdate requires an active transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockDatasetRepo) List(ctx context.Context, ownerID *uuid.UUID) ([]*models.Dataset, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make([]*models.Dataset, 0)
	for _, d := range m.db.state.datasets {
		if ownerID == nil || d.OwnerID == *ownerID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *mockDatasetRepo) UpdateMetadata(ctx context.Context, d *models.Dataset) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.state.datasets[d.ID]; !ok {
		return apperrors.ErrNotFound
	}
	d.UpdatedAt = time.Now()
	cp := *d
	m.db.state.datasets[d.ID] = &cp
	return nil
}

func (m *mockDatasetRepo) UpdateCSVPath(ctx context.Context, id int64, path string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	d, ok := m.db.state.datasets[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	cp := *d
	cp.CSVFilePath = &path
	m.db.state.datasets[id] = &cp
	return nil
}

func (m *mockDatasetRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.state.datasets[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.db.state.datasets, id)
	delete(m.db.state.records, id)
	delete(m.db.state.versions, id)
	return nil
}

type mockRecordRepo struct {
	db         *memDB
	replaceErr error
	// replaceDelay widens the window in which concurrent ingestions could interleave.
	replaceDelay time.Duration
}

var _ repositories.MaterialRecordRepository = (*mockRecordRepo)(nil)

func (m *mockRecordRepo) ReplaceAll(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error) {
	var n int64
	err := m.db.RunInTx(ctx, func(ctx context.Context) error {
		m.db.mu.Lock()
		m.db.state.records[datasetID] = nil
		m.db.mu.Unlock()

		if m.replaceDelay > 0 {
			time.Sleep(m.replaceDelay)
		}
		if m.replaceErr != nil {
			return m.replaceErr
		}

		var err error
		n, err = m.AppendBatch(ctx, datasetID, records)
		return err
	})
	return n, err
}

func (m *mockRecordRepo) AppendBatch(ctx context.Context, datasetID int64, records []models.MaterialRecord) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.state.datasets[datasetID]; !ok {
		return 0, fmt.Errorf("dataset %d does not exist", datasetID)
	}
	for _, r := range records {
		m.db.state.nextID++
		r.ID = m.db.state.nextID
		r.DatasetID = datasetID
		m.db.state.records[datasetID] = append(m.db.state.records[datasetID], r)
	}
	return int64(len(records)), nil
}

func (m *mockRecordRepo) filtered(datasetID int64, search string) []models.MaterialRecord {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]models.MaterialRecord, 0)
	for _, r := range m.db.state.records[datasetID] {
		if search != "" {
			formula := ""
			if r.ChemicalFormula != nil {
				formula = *r.ChemicalFormula
			}
			if !strings.Contains(strings.ToLower(r.MaterialName), search) &&
				!strings.Contains(strings.ToLower(formula), search) {
				continue
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (m *mockRecordRepo) Query(ctx context.Context, datasetID int64, f models.RecordFilter) (*models.RecordPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 100
	}
	all := m.filtered(datasetID, f.Search)
	start := min((f.Page-1)*f.PerPage, len(all))
	end := min(start+f.PerPage, len(all))
	return &models.RecordPage{
		Records:    all[start:end],
		Total:      len(all),
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: models.TotalPagesFor(len(all), f.PerPage),
	}, nil
}

func (m *mockRecordRepo) ListByDataset(ctx context.Context, datasetID int64) ([]models.MaterialRecord, error) {
	return m.filtered(datasetID, ""), nil
}

func (m *mockRecordRepo) Count(ctx context.Context, datasetID int64) (int, error) {
	return len(m.filtered(datasetID, "")), nil
}

func (m *mockRecordRepo) DistinctMaterials(ctx context.Context, datasetID int64) ([]string, error) {
	d := &models.Dataset{Records: m.filtered(datasetID, "")}
	return d.UniqueMaterials(), nil
}

func (m *mockRecordRepo) DistinctProperties(ctx context.Context, datasetID int64) ([]string, error) {
	d := &models.Dataset{Records: m.filtered(datasetID, "")}
	return d.UniqueProperties(), nil
}

type mockVersionRepo struct {
	db        *memDB
	createErr error
}

var _ repositories.DatasetVersionRepository = (*mockVersionRepo)(nil)

func (m *mockVersionRepo) NextVersionNumber(ctx context.Context, datasetID int64) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	highest := 0
	for _, v := range m.db.state.versions[datasetID] {
		if v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	return highest + 1, nil
}

func (m *mockVersionRepo) Create(ctx context.Context, in repositories.VersionInput) (*models.DatasetVersion, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	next, _ := m.NextVersionNumber(ctx, in.DatasetID)

	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.state.datasets[in.DatasetID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	m.db.state.nextID++
	v := &models.DatasetVersion{
		ID:               m.db.state.nextID,
		DatasetID:        in.DatasetID,
		VersionNumber:    next,
		CreatedAt:        time.Now(),
		CreatedBy:        in.UserID,
		CSVSnapshotPath:  in.CSVSnapshotPath,
		MetadataSnapshot: in.MetadataSnapshot,
		Changelog:        in.Changelog,
		RecordsCount:     in.RecordsCount,
	}
	m.db.state.versions[in.DatasetID] = append(m.db.state.versions[in.DatasetID], v)
	return v, nil
}

func (m *mockVersionRepo) ListByDataset(ctx context.Context, datasetID int64) ([]*models.DatasetVersion, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := append([]*models.DatasetVersion{}, m.db.state.versions[datasetID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *mockVersionRepo) GetByNumber(ctx context.Context, datasetID int64, n int) (*models.DatasetVersion, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, v := range m.db.state.versions[datasetID] {
		if v.VersionNumber == n {
			return v, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockVersionRepo) GetLatest(ctx context.Context, datasetID int64) (*models.DatasetVersion, error) {
	versions, _ := m.ListByDataset(ctx, datasetID)
	if len(versions) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return versions[0], nil
}

// ============================================================================
// File store and cache doubles
// ============================================================================

// failingSnapshotStore wraps a real FileStore and fails snapshot writes.
type failingSnapshotStore struct {
	storage.FileStore
	err error
}

func (f *failingSnapshotStore) WriteVersionSnapshot(datasetID int64, versionNumber int, r io.Reader) (string, error) {
	return "", f.err
}

// cancelOnRemoveStore cancels the request context when the previous upload
// is removed, which happens after the ingestion has committed.
type cancelOnRemoveStore struct {
	storage.FileStore
	cancel context.CancelFunc
}

func (c *cancelOnRemoveStore) Remove(relPath string) error {
	c.cancel()
	return c.FileStore.Remove(relPath)
}

type statsKey struct {
	datasetID int64
	version   int
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[statsKey]*models.DatasetStatistics
	gets        int
	hits        int
	invalidated []int64
	// invalidateErrs holds ctx.Err() as seen by each Invalidate call.
	invalidateErrs []error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[statsKey]*models.DatasetStatistics)}
}

func (c *recordingCache) Get(ctx context.Context, id int64, version int) (*models.DatasetStatistics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	s, ok := c.entries[statsKey{id, version}]
	if ok {
		c.hits++
	}
	return s, ok
}

func (c *recordingCache) Set(ctx context.Context, s *models.DatasetStatistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[statsKey{s.DatasetID, s.VersionNumber}] = s
}

func (c *recordingCache) Invalidate(ctx context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.datasetID == id {
			delete(c.entries, k)
		}
	}
	c.invalidated = append(c.invalidated, id)
	c.invalidateErrs = append(c.invalidateErrs, ctx.Err())
}

// ============================================================================
// Fixture
// ============================================================================

type ingestFixture struct {
	db       *memDB
	fs       afero.Fs
	store    storage.FileStore
	datasets *mockDatasetRepo
	records  *mockRecordRepo
	versions *mockVersionRepo
	cache    *recordingCache
}

func newIngestFixture() *ingestFixture {
	db := newMemDB()
	fs := afero.NewMemMapFs()
	return &ingestFixture{
		db:       db,
		fs:       fs,
		store:    storage.NewFileStoreFs(fs),
		datasets: &mockDatasetRepo{db: db},
		records:  &mockRecordRepo{db: db},
		versions: &mockVersionRepo{db: db},
		cache:    newRecordingCache(),
	}
}

func (f *ingestFixture) filesIn(dir string) []string {
	entries, err := afero.ReadDir(f.fs, dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
