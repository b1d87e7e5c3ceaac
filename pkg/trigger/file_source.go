package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DirectorySource is a FileSource over a local directory named by config.path.
// Files are reported when their modification time is after since.
type DirectorySource struct {
	// Root, when set, confines config.path to a directory below it.
	Root string
}

func (d DirectorySource) ListFiles(ctx context.Context, config map[string]any, since time.Time) ([]File, error) {
	dir, err := d.resolve(stringValue(config, "path"))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]File, 0)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if !info.ModTime().After(since) {
			continue
		}

		files = append(files, File{
			Path:       filepath.Join(dir, entry.Name()),
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	slices.SortFunc(files, func(a, b File) int { return a.ModifiedAt.Compare(b.ModifiedAt) })

	return files, nil
}

func (d DirectorySource) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: file trigger needs a path", ErrInvalidConfig)
	}

	if d.Root == "" {
		return filepath.Clean(path), nil
	}

	root := filepath.Clean(d.Root)
	dir := filepath.Join(root, path)

	if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes %s", ErrInvalidConfig, path, root)
	}

	return dir, nil
}
