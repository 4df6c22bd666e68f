package backup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ruteri/helix-container/instanceutils"
	"gopkg.in/yaml.v3"
)

const (
	ManifestFile = "MANIFEST.yaml"
	SnapshotFile = "SNAPSHOT.yaml"
	OffsiteFile  = "OFFSITE.yaml"
)

// FileEntry describes one file of the backup set.
type FileEntry struct {
	Name     string    `yaml:"name"`
	Size     int64     `yaml:"size"`
	Modified time.Time `yaml:"modified"`
}

// Manifest describes the "latest" backup directory.
type Manifest struct {
	Updated       time.Time   `yaml:"updated"`
	RunID         string      `yaml:"run_id"`
	Instance      string      `yaml:"instance"`
	Root          string      `yaml:"root"`
	Port          string      `yaml:"port"`
	ServerVersion string      `yaml:"server_version"`
	Checkpoints   []FileEntry `yaml:"checkpoints"`
	Journals      []FileEntry `yaml:"journals"`
	Logs          []FileEntry `yaml:"logs"`
	DepotFiles    int         `yaml:"depot_files"`
	DepotBytes    int64       `yaml:"depot_bytes"`
	TotalBytes    int64       `yaml:"total_bytes"`
	Monthly       []string    `yaml:"monthly_snapshots"`
}

// SnapshotInfo is written into each monthly snapshot.
type SnapshotInfo struct {
	Created    time.Time `yaml:"created"`
	Month      string    `yaml:"month"`
	Source     string    `yaml:"source"`
	Hardlinked bool      `yaml:"hardlinked"`
}

// OffsiteEntry records where one artifact was copied.
type OffsiteEntry struct {
	File      string   `yaml:"file"`
	Kind      string   `yaml:"kind"`
	ContentID string   `yaml:"content_id"`
	Stored    []string `yaml:"stored"`
	Failed    []string `yaml:"failed,omitempty"`
}

// OffsiteRecord is written next to the manifest when offsite storage is configured.
type OffsiteRecord struct {
	Updated time.Time      `yaml:"updated"`
	RunID   string         `yaml:"run_id"`
	Entries []OffsiteEntry `yaml:"entries"`
}

// WriteYAML marshals v and writes it atomically.
func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return instanceutils.WriteFileAtomic(path, data, 0o644)
}

// ReadYAML decodes the YAML document at path into v.
func ReadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// inventory lists the regular files directly or recursively under dir, sorted by name.
func inventory(dir string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{
			Name:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, err
}
