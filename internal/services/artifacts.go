package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// ErrArtifactNotFound is returned by Read for unknown artifact ids
var ErrArtifactNotFound = errors.New("artifact not found")

const artifactExt = ".json"

// ArtifactStore writes pipeline outputs under <data>/artifacts/<owner>/<id>.json.
// Artifacts are write-once: every Write creates a new id and nothing is overwritten.
type ArtifactStore struct {
	dir    string
	logger *lib.Logger
}

// NewArtifactStore creates the artifact directory if needed
func NewArtifactStore(dataDir string, logger *lib.Logger) (*ArtifactStore, error) {
	if logger == nil {
		logger = lib.NopLogger()
	}
	dir := filepath.Join(dataDir, "artifacts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactStore{dir: dir, logger: logger}, nil
}

// Write stores data for owner and returns the new artifact id
func (s *ArtifactStore) Write(ctx context.Context, data []byte, ownerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !models.IsSafeID(ownerID) {
		return "", fmt.Errorf("unsafe owner id %q", ownerID)
	}

	ownerDir := filepath.Join(s.dir, ownerID)
	if err := os.MkdirAll(ownerDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create owner directory: %w", err)
	}

	artifactID := uuid.New().String()
	tempPath := filepath.Join(ownerDir, ".tmp."+artifactID)

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	_, err = f.Write(data)
	if syncErr := f.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	// Link fails if the target exists, so an artifact is never replaced
	finalPath := filepath.Join(ownerDir, artifactID+artifactExt)
	if err := os.Link(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	_ = os.Remove(tempPath)

	s.logger.Debug("Artifact written", "artifact_id", artifactID, "owner", ownerID, "size", len(data))
	return artifactID, nil
}

// Read returns the bytes of an artifact
func (s *ArtifactStore) Read(ctx context.Context, ownerID, artifactID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsSafeID(ownerID) || !models.IsSafeID(artifactID) || strings.HasPrefix(artifactID, ".") {
		return nil, ErrArtifactNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, ownerID, artifactID+artifactExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", artifactID, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
