package tempstorage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
)

// archiveBlock zip-packs relPaths (workspace-relative, forward-slash) from
// workspaceRoot into a new archive at destPath, written atomically.
func archiveBlock(ctx context.Context, workspaceRoot, destPath string, relPaths []string) error {
	diskPaths := make(map[string]string, len(relPaths))
	for _, rel := range relPaths {
		diskPaths[filepath.Join(workspaceRoot, rel)] = filepath.ToSlash(rel)
	}
	files, err := archives.FilesFromDisk(ctx, nil, diskPaths)
	if err != nil {
		return fmt.Errorf("collect files for archive: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-archive-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	zipper := archives.Zip{}
	if err := zipper.Archive(ctx, tmp, files); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write zip archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// extractArchive unpacks archivePath's contents into workspaceRoot,
// preserving workspace-relative paths.
func extractArchive(ctx context.Context, archivePath, workspaceRoot string) error {
	archiveFS, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	return fs.WalkDir(archiveFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		dest := filepath.Join(workspaceRoot, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		src, err := archiveFS.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, src)
		return err
	})
}
