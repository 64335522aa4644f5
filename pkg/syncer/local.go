package syncer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalTransferBackend implements TransferBackend over directories on
// the local filesystem, one subdirectory per region. Used for
// development and as the destination sink when region trees are
// mounted locally (e.g., NFS exports).
type LocalTransferBackend struct {
	baseDir string
}

// NewLocalTransferBackend creates a transfer backend rooted at baseDir.
func NewLocalTransferBackend(baseDir string) *LocalTransferBackend {
	return &LocalTransferBackend{baseDir: baseDir}
}

func (l *LocalTransferBackend) regionDir(region string) string {
	return filepath.Join(l.baseDir, region)
}

// WriteFile streams r into the region's tree at relPath, creating
// parent directories as needed.
func (l *LocalTransferBackend) WriteFile(ctx context.Context, destRegion, relPath string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	target := filepath.Join(l.regionDir(destRegion), relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", relPath, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", relPath, err)
	}
	return n, nil
}

// ListFiles returns the relative paths of all regular files in the
// region's tree.
func (l *LocalTransferBackend) ListFiles(ctx context.Context, destRegion string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := l.regionDir(destRegion)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return out, nil
}

// DeleteFile removes one file from the region's tree.
func (l *LocalTransferBackend) DeleteFile(ctx context.Context, destRegion, relPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(relPath, "..") {
		return fmt.Errorf("refusing to delete path outside region tree: %s", relPath)
	}
	return os.Remove(filepath.Join(l.regionDir(destRegion), relPath))
}
