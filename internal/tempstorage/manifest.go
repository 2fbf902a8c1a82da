// Package tempstorage implements the content-addressed local/shared
// temp-storage layer: per-block manifests, per-tag file-lists, atomic
// publication, zip archiving for cross-agent transfer, and local cache
// integrity checking.
package tempstorage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ManifestFile records one file within a block: its workspace-relative
// path, length, last-write timestamp (UTC ticks), and SHA-1 digest.
type ManifestFile struct {
	Path            string `json:"path"`
	Length          int64  `json:"length"`
	ModifiedAtTicks int64  `json:"modifiedAtTicks"`
	SHA1            string `json:"sha1"`
}

// Manifest is the ordered file list for one block.
type Manifest struct {
	Files []ManifestFile `json:"files"`
}

// Block identifies one on-disk archive: the Node that produced it and the
// output name, where an empty Output designates the default output.
type Block struct {
	Node   string
	Output string
}

// Key is the block's on-disk identifier, e.g. "Build@" for the default
// output or "Build@Widget" for a named one. Synthetic multi-tag blocks use
// a '+'-joined Output, constructed by the caller.
func (b Block) Key() string {
	return b.Node + "@" + b.Output
}

// FileList is the per-tag record: the files composing the tag and the
// blocks that, between them, physically contain those files.
type FileList struct {
	Tag    string   `json:"tag"`
	Files  []string `json:"files"`
	Blocks []string `json:"blocks"`
}

// buildManifest stats and hashes each workspace-relative path under root,
// in the given order, producing one Manifest entry per file.
func buildManifest(root string, relPaths []string) (Manifest, error) {
	m := Manifest{Files: make([]ManifestFile, 0, len(relPaths))}
	for _, rel := range relPaths {
		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			return Manifest{}, fmt.Errorf("stat %s: %w", rel, err)
		}
		digest, err := sha1File(abs)
		if err != nil {
			return Manifest{}, err
		}
		m.Files = append(m.Files, ManifestFile{
			Path:            filepath.ToSlash(rel),
			Length:          info.Size(),
			ModifiedAtTicks: ToTicks(info.ModTime()),
			SHA1:            digest,
		})
	}
	return m, nil
}

func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
