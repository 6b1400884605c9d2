package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IsRemoteSource reports whether a document argument names an http(s) URL
func IsRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// ImportURL downloads a document into the store and returns its blob id.
// Partial downloads never become visible as blobs.
func (s *BlobStore) ImportURL(ctx context.Context, client *HTTPClient, url string, maxBytes int64) (string, error) {
	blobID := uuid.New().String()
	tempPath := filepath.Join(s.dir, ".download.tmp."+blobID)

	destFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}

	s.logger.Info("Downloading document", "url", url)
	n, err := client.Download(ctx, url, destFile, maxBytes)
	closeErr := destFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}

	if err := os.Rename(tempPath, filepath.Join(s.dir, blobID)); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	s.logger.Debug("Document downloaded", "blob_id", blobID, "size", n)
	return blobID, nil
}
