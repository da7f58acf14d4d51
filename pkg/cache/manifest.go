package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the file written into every content unit. Its presence
// marks the unit as completely extracted.
const ManifestName = ".bookfetch-unit.json"

// Manifest records where a content unit came from.
type Manifest struct {
	Key       string    `json:"key"`
	Location  string    `json:"location"`
	Kind      string    `json:"kind"`
	Tag       string    `json:"tag,omitempty"`
	SourceURL string    `json:"source_url"`
	Format    string    `json:"format"`
	SHA256    string    `json:"sha256,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteManifest writes m into dir atomically.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	target := filepath.Join(dir, ManifestName)
	tempFile := target + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of the unit in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUnit, err)
	}
	return &m, nil
}
