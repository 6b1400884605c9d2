package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// BlobStore keeps source documents as flat files under <data>/blobs
type BlobStore struct {
	dir    string
	logger *lib.Logger
}

// NewBlobStore creates the blob directory if needed
func NewBlobStore(dataDir string, logger *lib.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = lib.NopLogger()
	}
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir, logger: logger}, nil
}

// Put stores data under a fresh blob id
func (s *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	blobID := uuid.New().String()
	if err := writeFileAtomic(s.dir, blobID, data); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	s.logger.Debug("Blob stored", "blob_id", blobID, "size", len(data))
	return blobID, nil
}

// Import copies a local file into the store and returns its blob id
func (s *BlobStore) Import(ctx context.Context, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("source file does not exist: %s", sourcePath)
		}
		return "", fmt.Errorf("cannot access source file: %w", err)
	}
	if srcInfo.IsDir() {
		return "", fmt.Errorf("source path is a directory: %s", sourcePath)
	}

	srcFile, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			s.logger.Error("Failed to close source file", "error", err)
		}
	}()

	blobID := uuid.New().String()
	tempPath := filepath.Join(s.dir, ".import.tmp."+blobID)
	destFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}

	bytesWritten, err := io.Copy(destFile, srcFile)
	closeErr := destFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to copy file: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(s.dir, blobID)); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	s.logger.Debug("File imported", "file", filepath.Base(sourcePath), "blob_id", blobID, "size", bytesWritten)
	return blobID, nil
}

// Fetch returns the blob bytes, or nil without error when the blob does not exist
func (s *BlobStore) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsSafeID(blobID) {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}
