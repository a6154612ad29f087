// Package catalog lists model files found in a directory. It is read-only
// discovery for the admin API and preloading; the serving path accepts any
// model_path, listed or not.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/internal/gguf"
	"chatd/pkg/types"
)

// Extensions recognized as model files.
var Extensions = []string{".gguf", ".bin"}

// Scanner discovers models in a directory.
type Scanner interface {
	Scan(dir string) ([]types.Model, error)
}

// GGUFScanner reads the header of each candidate file to report its architecture.
// Files that fail to parse are still listed, with Error set.
type GGUFScanner struct{}

// NewGGUFScanner returns a Scanner for GGUF model files.
func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists model files directly under dir, sorted by ID. IDs are file names
// and paths are absolute.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !slices.Contains(Extensions, strings.ToLower(filepath.Ext(name))) {
			continue
		}
		p := filepath.Join(abs, name)
		m := types.Model{ID: name, Path: p, SizeMB: fsutil.SizeMB(p)}
		if hdr, err := gguf.ReadFile(p); err != nil {
			m.Error = err.Error()
		} else {
			m.Architecture = hdr.Architecture
		}
		models = append(models, m)
	}
	slices.SortFunc(models, func(a, b types.Model) int { return strings.Compare(a.ID, b.ID) })
	return models, nil
}

// LoadDir scans dir with the GGUF scanner.
func LoadDir(dir string) ([]types.Model, error) { return NewGGUFScanner().Scan(dir) }

// Find returns the model in models whose ID or path matches ref.
func Find(models []types.Model, ref string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == ref || m.Path == ref {
			return m, true
		}
	}
	return types.Model{}, false
}
