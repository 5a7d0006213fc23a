package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalStorageGateway stores artifacts under a base directory on the
// local filesystem. Paths are confined to the base: a relative path
// that escapes it is rejected.
type LocalStorageGateway struct {
	fs   afero.Fs
	base string
}

// NewLocalStorageGateway creates a LocalStorageGateway rooted at base
func NewLocalStorageGateway(fs afero.Fs, base string) *LocalStorageGateway {
	return &LocalStorageGateway{fs: fs, base: base}
}

// SaveArtifact writes data at relPath under the base directory and
// returns the full path.
func (g *LocalStorageGateway) SaveArtifact(ctx context.Context, relPath string, data []byte) (string, error) {
	path, err := g.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := g.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := afero.WriteFile(g.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", relPath, err)
	}
	return path, nil
}

// LoadArtifact reads a previously saved artifact
func (g *LocalStorageGateway) LoadArtifact(ctx context.Context, relPath string) ([]byte, error) {
	path, err := g.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", relPath, err)
	}
	return data, nil
}

func (g *LocalStorageGateway) resolve(relPath string) (string, error) {
	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("artifact path %s escapes storage root", relPath)
	}
	return filepath.Join(g.base, cleaned), nil
}
