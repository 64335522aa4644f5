// Package syncer keeps region-local data consistent by copying a file
// tree from one region to another. The transfer strategy is chosen from
// the estimated payload size: small payloads go point-to-point
// (DirectTransfer), large payloads are staged through a durable object
// store (StagedObjectStore). The engine never retries on its own;
// retry policy belongs to its caller.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jvreagan/multi-region/pkg/logging"
	"github.com/jvreagan/multi-region/pkg/types"
)

// StagedTransferThreshold is the payload size at which the engine
// switches from direct point-to-point copy to the staged object-store
// strategy. The boundary is inclusive on the staged side: a payload of
// exactly this size is staged.
const StagedTransferThreshold = 100 * 1024 * 1024 // 100 MiB

// SyncFailureReason classifies a SyncError.
type SyncFailureReason string

const (
	ReasonCyclicPath     SyncFailureReason = "cyclic_path"
	ReasonEstimateFailed SyncFailureReason = "estimate_failed"
	ReasonTransferFailed SyncFailureReason = "transfer_failed"
	ReasonDeleteFailed   SyncFailureReason = "delete_failed"
)

// SyncError is returned when a sync operation fails after validation.
type SyncError struct {
	Reason SyncFailureReason
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed (%s): %v", e.Reason, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// InvalidSyncRequestError is returned before any transfer is attempted
// when the request itself is malformed.
type InvalidSyncRequestError struct {
	Detail string
}

func (e *InvalidSyncRequestError) Error() string {
	return fmt.Sprintf("invalid sync request: %s", e.Detail)
}

// Options control a single sync operation.
type Options struct {
	// DeleteStale removes files present at the destination but absent
	// at the source. Deletion only runs after the whole transfer
	// succeeded; a failed transfer never deletes anything.
	DeleteStale bool
}

// TransferBackend provides the primitive per-region file operations the
// engine composes into a sync. Implementations are external
// collaborators (local filesystem trees, cloud file shares).
type TransferBackend interface {
	// WriteFile streams one file into the destination region,
	// returning the number of bytes written.
	WriteFile(ctx context.Context, destRegion, relPath string, r io.Reader) (int64, error)

	// ListFiles returns the relative paths currently present in the
	// destination region.
	ListFiles(ctx context.Context, destRegion string) ([]string, error)

	// DeleteFile removes one file from the destination region.
	DeleteFile(ctx context.Context, destRegion, relPath string) error
}

// ObjectStore provides the durable staging primitives used by the
// StagedObjectStore strategy.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Engine executes cross-region sync operations.
type Engine struct {
	transfer TransferBackend
	store    ObjectStore
}

// NewEngine creates a sync engine. The object store is only exercised
// by payloads at or above StagedTransferThreshold.
func NewEngine(transfer TransferBackend, store ObjectStore) *Engine {
	return &Engine{transfer: transfer, store: store}
}

// ChooseStrategy picks the transfer strategy for an estimated payload
// size. Exactly StagedTransferThreshold bytes routes to the staged
// strategy.
func ChooseStrategy(estimatedSize int64) types.SyncStrategy {
	if estimatedSize >= StagedTransferThreshold {
		return types.StrategyStagedObjectStore
	}
	return types.StrategyDirectTransfer
}

type sourceFile struct {
	relPath string
	absPath string
	size    int64
}

// Sync copies the file tree rooted at path from sourceRegion to
// destRegion and returns what happened. A network failure mid-transfer
// fails the whole operation; the caller may retry.
func (e *Engine) Sync(ctx context.Context, sourceRegion, destRegion, path string, opts Options) (*types.SyncResult, error) {
	if sourceRegion == "" {
		return nil, &InvalidSyncRequestError{Detail: "source region is required"}
	}
	if destRegion == "" {
		return nil, &InvalidSyncRequestError{Detail: "destination region is required"}
	}
	if sourceRegion == destRegion {
		return nil, &InvalidSyncRequestError{Detail: "source and destination regions must differ"}
	}

	files, totalSize, err := collectFiles(path)
	if err != nil {
		return nil, err
	}

	strategy := ChooseStrategy(totalSize)

	logging.Info("starting cross-region sync",
		"source", sourceRegion,
		"dest", destRegion,
		"files", len(files),
		"estimated_bytes", totalSize,
		"strategy", strategy.String())

	started := time.Now()

	var transferred int64
	switch strategy {
	case types.StrategyStagedObjectStore:
		transferred, err = e.stagedTransfer(ctx, sourceRegion, destRegion, files)
	default:
		transferred, err = e.directTransfer(ctx, destRegion, files)
	}
	if err != nil {
		return nil, &SyncError{Reason: ReasonTransferFailed, Err: err}
	}

	deleted := false
	if opts.DeleteStale {
		deleted, err = e.deleteStale(ctx, destRegion, files)
		if err != nil {
			return nil, &SyncError{Reason: ReasonDeleteFailed, Err: err}
		}
	}

	result := &types.SyncResult{
		StrategyUsed:      strategy,
		BytesTransferred:  transferred,
		Duration:          time.Since(started),
		DeletedStaleFiles: deleted,
	}
	logging.Info("cross-region sync finished",
		"source", sourceRegion,
		"dest", destRegion,
		"bytes", transferred,
		"duration", result.Duration.String(),
		"deleted_stale", deleted)
	return result, nil
}

// directTransfer streams every source file straight into the
// destination region.
func (e *Engine) directTransfer(ctx context.Context, destRegion string, files []sourceFile) (int64, error) {
	var total int64
	for _, f := range files {
		n, err := e.copyFile(ctx, destRegion, f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) copyFile(ctx context.Context, destRegion string, f sourceFile) (int64, error) {
	src, err := os.Open(f.absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", f.relPath, err)
	}
	defer src.Close()

	n, err := e.transfer.WriteFile(ctx, destRegion, f.relPath, src)
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", f.relPath, err)
	}
	return n, nil
}

// stagedTransfer pushes every file through the object store first, then
// delivers the staged copies to the destination. Staged objects are
// removed afterwards on a best-effort basis.
func (e *Engine) stagedTransfer(ctx context.Context, sourceRegion, destRegion string, files []sourceFile) (int64, error) {
	if e.store == nil {
		return 0, fmt.Errorf("staged transfer requires an object store")
	}

	stagePrefix := fmt.Sprintf("staging/%s-to-%s/%d", sourceRegion, destRegion, time.Now().UnixNano())

	stagedKeys := make([]string, 0, len(files))
	for _, f := range files {
		src, err := os.Open(f.absPath)
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", f.relPath, err)
		}
		key := stagePrefix + "/" + filepath.ToSlash(f.relPath)
		err = e.store.Put(ctx, key, src)
		src.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to stage %s: %w", f.relPath, err)
		}
		stagedKeys = append(stagedKeys, key)
	}

	var total int64
	for i, f := range files {
		rc, err := e.store.Get(ctx, stagedKeys[i])
		if err != nil {
			return 0, fmt.Errorf("failed to fetch staged %s: %w", f.relPath, err)
		}
		n, err := e.transfer.WriteFile(ctx, destRegion, f.relPath, rc)
		rc.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to deliver %s: %w", f.relPath, err)
		}
		total += n
	}

	// Cleanup of staging data never fails the sync.
	for _, key := range stagedKeys {
		if err := e.store.Delete(ctx, key); err != nil {
			logging.Warn("failed to delete staged object", "key", key, "error", err.Error())
		}
	}

	return total, nil
}

// deleteStale removes destination files the source no longer has.
// Returns whether anything was removed.
func (e *Engine) deleteStale(ctx context.Context, destRegion string, files []sourceFile) (bool, error) {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[filepath.ToSlash(f.relPath)] = true
	}

	destFiles, err := e.transfer.ListFiles(ctx, destRegion)
	if err != nil {
		return false, fmt.Errorf("failed to list destination files: %w", err)
	}

	deleted := false
	for _, rel := range destFiles {
		if present[filepath.ToSlash(rel)] {
			continue
		}
		if err := e.transfer.DeleteFile(ctx, destRegion, rel); err != nil {
			return deleted, fmt.Errorf("failed to delete stale file %s: %w", rel, err)
		}
		deleted = true
	}
	return deleted, nil
}

// EstimateSize walks the tree under root and sums regular file sizes.
// Symbolic links are followed once; a link cycle is rejected.
func EstimateSize(root string) (int64, error) {
	_, total, err := collectFiles(root)
	return total, err
}

// collectFiles walks root, following symlinks once, and returns the
// regular files found plus their total size. Revisiting an already-seen
// resolved directory means the tree contains a link cycle.
func collectFiles(root string) ([]sourceFile, int64, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, 0, &SyncError{Reason: ReasonEstimateFailed, Err: fmt.Errorf("failed to resolve %s: %w", root, err)}
	}

	// visited dirs are entered at most once; stack tracks the current
	// walk path so a link back to an ancestor is reported as a cycle
	// rather than silently skipped.
	visited := map[string]bool{}
	stack := map[string]bool{}
	var files []sourceFile
	var total int64

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if stack[real] {
			return &SyncError{Reason: ReasonCyclicPath, Err: fmt.Errorf("link cycle at %s", dir)}
		}
		if visited[real] {
			return nil
		}
		visited[real] = true
		stack[real] = true
		defer delete(stack, real)

		entries, err := os.ReadDir(real)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}
		// Deterministic order keeps transfers and tests stable.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			entryPath := filepath.Join(real, entry.Name())
			entryRel := filepath.Join(rel, entry.Name())

			info, err := os.Stat(entryPath) // follows symlinks
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", entryRel, err)
			}

			if info.IsDir() {
				if err := walk(entryPath, entryRel); err != nil {
					return err
				}
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}

			target, err := filepath.EvalSymlinks(entryPath)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", entryRel, err)
			}
			files = append(files, sourceFile{relPath: entryRel, absPath: target, size: info.Size()})
			total += info.Size()
		}
		return nil
	}

	if err := walk(resolved, ""); err != nil {
		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			return nil, 0, syncErr
		}
		return nil, 0, &SyncError{Reason: ReasonEstimateFailed, Err: err}
	}
	return files, total, nil
}
