// Package blobstore persists raw document bytes under slash-separated paths.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned by Read when nothing is stored at the path
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidPath is returned for empty paths or paths escaping the store root
	ErrInvalidPath = errors.New("invalid blob path")
)

// Store is the byte store contract
type Store interface {
	Save(ctx context.Context, p string, data []byte) error
	Read(ctx context.Context, p string) ([]byte, error)
	Delete(ctx context.Context, p string) error
}

// LocalDisk stores blobs as files below a base directory
type LocalDisk struct {
	basePath string
	logger   *slog.Logger
}

// NewLocalDisk creates the base directory if needed
func NewLocalDisk(basePath string, logger *slog.Logger) (*LocalDisk, error) {
	if basePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrInvalidPath)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalDisk{basePath: basePath, logger: logger}, nil
}

func (s *LocalDisk) fullPath(p string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if p == "" || clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// Save writes data at p, overwriting any existing blob
func (s *LocalDisk) Save(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("failed to move blob into place: %w", err)
	}

	s.logger.Debug("Blob saved",
		slog.String("path", p),
		slog.Int("size", len(data)),
	)
	return nil
}

// Read returns the bytes stored at p
func (s *LocalDisk) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", p, err)
	}
	return data, nil
}

// Delete removes the blob at p. Deleting a missing blob is not an error.
func (s *LocalDisk) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", p, err)
	}
	return nil
}
