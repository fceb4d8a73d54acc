// Package registry discovers model files on disk. A registry entry is
// a *.gguf file; the id is the full filename, the quantization is
// inferred from it when recognizable.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inferd/pkg/types"
)

// ExpandHome resolves a leading "~" against the current user's home
// directory. Paths without the prefix, and paths for users whose home
// cannot be determined, pass through unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// PathExists reports whether path names an existing file or directory.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadDir scans a directory for *.gguf files and builds a registry from
// filenames. ID is the full filename (including extension); Path is the
// absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := filepath.Abs(ExpandHome(dir))
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
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
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:    name,
			Name:  strings.TrimSuffix(name, filepath.Ext(name)),
			Path:  filepath.Join(abs, name),
			Quant: quantFromName(name),
		})
	}
	return models, nil
}

// quantFromName extracts a quantization tag like "Q4_K_M" from a model
// filename, or "" when none is recognizable.
func quantFromName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool {
		return r == '.' || r == '-'
	}) {
		upper := strings.ToUpper(seg)
		if len(upper) >= 2 && upper[0] == 'Q' && upper[1] >= '0' && upper[1] <= '9' {
			return upper
		}
	}
	return ""
}
