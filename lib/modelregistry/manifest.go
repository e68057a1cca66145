// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modelregistry

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ManifestFilename is the standard filename for pull manifests
const ManifestFilename = "pull_manifest.json"

// CurrentSchemaVersion is the manifest schema version written by this package.
const CurrentSchemaVersion = 1

// File is a single file recorded in a manifest.
type File struct {
	// Name is the filename (e.g., "model.onnx", "tokenizer.json")
	Name string `json:"name"`
	// Digest is the SHA256 hash of the file (e.g., "sha256:abc123...")
	Digest string `json:"digest"`
	// Size is the file size in bytes
	Size int64 `json:"size"`
}

// Manifest records what a pull fetched and from where.
type Manifest struct {
	SchemaVersion int       `json:"schemaVersion"`
	Source        string    `json:"source"`
	Kind          Kind      `json:"kind"`
	Variant       string    `json:"variant,omitempty"`
	Files         []File    `json:"files"`
	DownloadedAt  time.Time `json:"downloadedAt"`
}

// Validate checks the manifest for required fields.
func (m *Manifest) Validate() error {
	if m.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version %d", m.SchemaVersion)
	}
	if m.Source == "" {
		return fmt.Errorf("source is required")
	}
	if _, err := ParseKind(string(m.Kind)); err != nil {
		return err
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	for i, f := range m.Files {
		if f.Name == "" {
			return fmt.Errorf("file %d: name is required", i)
		}
	}
	return nil
}

// SaveTo writes the manifest to a file as JSON
func (m *Manifest) SaveTo(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and validates the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// ComputeFileDigest computes the SHA256 digest of a file in "sha256:..." format
func ComputeFileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// ScanFiles returns a File entry for every regular file in dir except the
// manifest itself.
func ScanFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ManifestFilename {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		digest, err := ComputeFileDigest(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: entry.Name(), Digest: digest, Size: info.Size()})
	}
	return files, nil
}
