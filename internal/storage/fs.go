/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FSStore keeps objects as files below a root directory.
type FSStore struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(rootDir string, logger zerolog.Logger) (*FSStore, error) {
	if rootDir == "" {
		return nil, errors.New("capture directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	return &FSStore{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "storage").Str("backend", "fs").Logger(),
	}, nil
}

// Put writes data under key, creating parent directories.
func (s *FSStore) Put(_ context.Context, key string, data []byte, _ string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		os.Remove(full)
		return fmt.Errorf("write file: %w", err)
	}
	s.logger.Debug().Str("path", full).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get reads the object stored under key.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Location returns the file path of key.
func (s *FSStore) Location(key string) string {
	full, err := s.path(key)
	if err != nil {
		return key
	}
	return full
}

func (s *FSStore) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(cleaned)), nil
}
