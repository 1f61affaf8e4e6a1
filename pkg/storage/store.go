// Package storage keeps uploaded CSV files and per-version snapshots on disk.
//
// Layout, relative to the configured root:
//
//	datasets/<id>/uploads/<uuid>.csv                    live upload (csv_file_path)
//	datasets/<id>/versions/materials_dataset_<id>_v<n>.csv   version snapshots
//
// All returned paths are relative to the root so the database never stores
// host-specific absolute paths.
package storage

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FileStore persists CSV files for datasets.
type FileStore interface {
	// WriteUpload stores a new live upload and returns its relative path.
	WriteUpload(datasetID int64, r io.Reader) (string, error)
	// WriteVersionSnapshot stores the snapshot for a version. An existing file
	// at that path (left over from a rolled-back attempt) is replaced.
	WriteVersionSnapshot(datasetID int64, versionNumber int, r io.Reader) (string, error)
	Open(relPath string) (io.ReadCloser, error)
	Remove(relPath string) error
	RemoveDataset(datasetID int64) error
}

type fileStore struct {
	fs afero.Fs
}

// NewFileStore creates a FileStore rooted at dir on the local filesystem.
func NewFileStore(dir string) (FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return NewFileStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewFileStoreFs creates a FileStore on an arbitrary afero filesystem.
// Tests use afero.NewMemMapFs.
func NewFileStoreFs(fs afero.Fs) FileStore {
	return &fileStore{fs: fs}
}

var _ FileStore = (*fileStore)(nil)

// DatasetDir returns the relative directory holding all files of a dataset.
func DatasetDir(datasetID int64) string {
	return path.Join("datasets", fmt.Sprint(datasetID))
}

// SnapshotFileName returns the file name of a version snapshot.
func SnapshotFileName(datasetID int64, versionNumber int) string {
	return fmt.Sprintf("materials_dataset_%d_v%d.csv", datasetID, versionNumber)
}

// VersionSnapshotPath returns the relative path of a version snapshot.
func VersionSnapshotPath(datasetID int64, versionNumber int) string {
	return path.Join(DatasetDir(datasetID), "versions", SnapshotFileName(datasetID, versionNumber))
}

func (s *fileStore) WriteUpload(datasetID int64, r io.Reader) (string, error) {
	rel := path.Join(DatasetDir(datasetID), "uploads", uuid.NewString()+".csv")
	if err := s.writeAtomic(rel, r); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return rel, nil
}

func (s *fileStore) WriteVersionSnapshot(datasetID int64, versionNumber int, r io.Reader) (string, error) {
	rel := VersionSnapshotPath(datasetID, versionNumber)
	if err := s.writeAtomic(rel, r); err != nil {
		return "", fmt.Errorf("failed to write version snapshot: %w", err)
	}
	return rel, nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never observe a partially written CSV.
func (s *fileStore) writeAtomic(rel string, r io.Reader) error {
	dir := path.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, rel); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	return nil
}

func (s *fileStore) Open(relPath string) (io.ReadCloser, error) {
	f, err := s.fs.Open(relPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", relPath, err)
	}
	return f, nil
}

// Remove deletes a file. A missing file is not an error.
func (s *fileStore) Remove(relPath string) error {
	if err := s.fs.Remove(relPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", relPath, err)
	}
	return nil
}

func (s *fileStore) RemoveDataset(datasetID int64) error {
	if err := s.fs.RemoveAll(DatasetDir(datasetID)); err != nil {
		return fmt.Errorf("failed to remove dataset files: %w", err)
	}
	return nil
}
