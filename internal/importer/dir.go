package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirSource opens dataset keys as files below Root. Keys may not escape it.
type DirSource struct {
	Root string
}

func (d DirSource) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("dataset key %q escapes the import directory", key)
	}
	return os.Open(filepath.Join(d.Root, rel))
}
