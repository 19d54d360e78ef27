/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package robotconfig edits the robot server's JSON configuration file and
// restarts the server so edits take effect.
package robotconfig

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrEmptyConfig is returned for blank submissions.
	ErrEmptyConfig = errors.New("configuration cannot be empty")
	// ErrInvalidJSON is returned for content that is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON")
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("robot.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Validate checks content is a non-blank JSON object accepted by the robot
// config schema. Syntax errors carry the line and column of the problem.
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyConfig
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			line, col := position(content, syntax.Offset)
			return fmt.Errorf("%w: %s: line %d column %d (char %d)", ErrInvalidJSON, syntax.Error(), line, col, syntax.Offset)
		}
		return fmt.Errorf("%w: %s", ErrInvalidJSON, err.Error())
	}

	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile robot config schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidJSON, leafMessage(verr))
		}
		return fmt.Errorf("%w: %s", ErrInvalidJSON, err.Error())
	}
	return nil
}

// leafMessage returns the innermost cause, which names the offending field.
func leafMessage(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	loc := verr.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + verr.Message
}

// position converts a byte offset into a 1-based line and column.
func position(content string, offset int64) (int, int) {
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	prefix := content[:offset]
	line := strings.Count(prefix, "\n") + 1
	col := int(offset) - strings.LastIndex(prefix, "\n")
	return line, col
}

// Store reads and writes one configuration file.
type Store struct {
	path string
}

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Read returns the file content and whether the file exists. A missing file
// is not an error.
func (s *Store) Read() (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", true, fmt.Errorf("read robot config: %w", err)
	}
	return string(data), true, nil
}

// Write validates content and atomically replaces the file.
func (s *Store) Write(content string) error {
	if err := Validate(content); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write([]byte(content)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		// A file bind-mounted into a container cannot be replaced, only
		// rewritten in place.
		if werr := os.WriteFile(s.path, []byte(content), 0o644); werr != nil {
			return fmt.Errorf("replace robot config: %w", errors.Join(err, werr))
		}
	}
	return nil
}
