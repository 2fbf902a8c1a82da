package tempstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a requested tag or block has no record in
// either local or shared storage.
var ErrNotFound = errors.New("tempstorage: not found")

// Store manages the local (always present) and shared (optional,
// typically a network path) storage roots for one workspace.
type Store struct {
	WorkspaceRoot string
	LocalRoot     string
	SharedRoot    string // "" disables shared storage
}

// New returns a Store rooted at workspaceRoot, with local metadata under
// localRoot and (optionally) shared archives under sharedRoot.
func New(workspaceRoot, localRoot, sharedRoot string) *Store {
	return &Store{WorkspaceRoot: workspaceRoot, LocalRoot: localRoot, SharedRoot: sharedRoot}
}

func (s *Store) manifestPath(root, key string) string {
	return filepath.Join(root, "manifests", sanitize(key)+".manifest.json")
}

func (s *Store) fileListPath(root, tag string) string {
	return filepath.Join(root, "filelists", sanitize(tag)+".json")
}

func (s *Store) archivePath(root string, b Block) string {
	return filepath.Join(root, "archives", sanitize(b.Node)+"@"+sanitize(b.Output)+".zip")
}

func (s *Store) markerPath(root, node string) string {
	return filepath.Join(root, "markers", sanitize(node)+".complete")
}

func (s *Store) indexPath(node string) string {
	return filepath.Join(s.LocalRoot, "index", sanitize(node)+".json")
}

func sanitize(name string) string {
	name = strings.TrimPrefix(name, "#")
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
}

// completionIndex is private bookkeeping (not part of the documented
// on-disk format) recording which blocks/tags a Node's completion marker
// covers, so CleanLocalNode and CheckLocalIntegrity know what to inspect
// without re-deriving it from the Graph.
type completionIndex struct {
	OutputTags   []string `json:"outputTags"`
	Blocks       []string `json:"blocks"`
	SharedBlocks []string `json:"sharedBlocks"`
}

// WriteBlock hashes and records relPaths (workspace-relative) as one
// manifest for block, writing it locally and, if shared is true,
// additionally zip-archiving the files into shared storage alongside a
// shared manifest copy.
func (s *Store) WriteBlock(ctx context.Context, b Block, relPaths []string, shared bool) (Manifest, error) {
	m, err := buildManifest(s.WorkspaceRoot, relPaths)
	if err != nil {
		return Manifest{}, err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	if err := writeAtomic(s.manifestPath(s.LocalRoot, b.Key()), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write local manifest for %s: %w", b.Key(), err)
	}

	if shared {
		if s.SharedRoot == "" {
			return Manifest{}, &StorageError{Op: "write block", Key: b.Key(), Err: fmt.Errorf("requires shared storage but none is configured")}
		}
		if err := archiveBlock(ctx, s.WorkspaceRoot, s.archivePath(s.SharedRoot, b), relPaths); err != nil {
			return Manifest{}, &StorageError{Op: "archive block", Key: b.Key(), Err: err}
		}
		if err := writeAtomic(s.manifestPath(s.SharedRoot, b.Key()), data, 0o644); err != nil {
			return Manifest{}, fmt.Errorf("write shared manifest for %s: %w", b.Key(), err)
		}
	}
	return m, nil
}

// WriteFileList records fl locally, and in shared storage too when shared
// is true (some block composing the tag was mirrored there).
func (s *Store) WriteFileList(fl FileList, shared bool) error {
	data, err := json.MarshalIndent(fl, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.fileListPath(s.LocalRoot, fl.Tag), data, 0o644); err != nil {
		return err
	}
	if shared {
		if s.SharedRoot == "" {
			return &StorageError{Op: "write file-list", Key: fl.Tag, Err: fmt.Errorf("requires shared storage but none is configured")}
		}
		return writeAtomic(s.fileListPath(s.SharedRoot, fl.Tag), data, 0o644)
	}
	return nil
}

// Retrieve returns tag's file-list, fetching and unpacking it (and the
// blocks behind it) from shared storage into the local cache if needed.
func (s *Store) Retrieve(ctx context.Context, tag string) (FileList, error) {
	localPath := s.fileListPath(s.LocalRoot, tag)
	if fileExists(localPath) {
		return readFileList(localPath)
	}
	if s.SharedRoot == "" {
		return FileList{}, fmt.Errorf("%w: tag %s", ErrNotFound, tag)
	}
	sharedPath := s.fileListPath(s.SharedRoot, tag)
	if !fileExists(sharedPath) {
		return FileList{}, fmt.Errorf("%w: tag %s", ErrNotFound, tag)
	}
	fl, err := readFileList(sharedPath)
	if err != nil {
		return FileList{}, err
	}
	for _, blockKey := range fl.Blocks {
		if err := s.hydrateBlock(ctx, blockKey); err != nil {
			return FileList{}, err
		}
	}
	if err := s.WriteFileList(fl, false); err != nil {
		return FileList{}, err
	}
	return fl, nil
}

// ReadManifest returns the manifest recorded for blockKey. Retrieve always
// hydrates the local manifest for every block a returned FileList
// references, so this reads purely from local storage.
func (s *Store) ReadManifest(blockKey string) (Manifest, error) {
	m, err := readManifest(s.manifestPath(s.LocalRoot, blockKey))
	if err != nil {
		return Manifest{}, &StorageError{Op: "read manifest", Key: blockKey, Err: err}
	}
	return m, nil
}

// hydrateBlock ensures blockKey's manifest and files exist in the local
// workspace, unpacking the shared archive if the local copy is missing.
func (s *Store) hydrateBlock(ctx context.Context, blockKey string) error {
	localManifest := s.manifestPath(s.LocalRoot, blockKey)
	if fileExists(localManifest) {
		return nil
	}
	node, output := splitBlockKey(blockKey)
	archivePath := s.archivePath(s.SharedRoot, Block{Node: node, Output: output})
	if !fileExists(archivePath) {
		return &StorageError{Op: "hydrate block", Key: blockKey, Err: ErrNotFound}
	}
	if err := extractArchive(ctx, archivePath, s.WorkspaceRoot); err != nil {
		return &StorageError{Op: "extract block", Key: blockKey, Err: err}
	}
	sharedManifest := s.manifestPath(s.SharedRoot, blockKey)
	data, err := os.ReadFile(sharedManifest)
	if err != nil {
		return fmt.Errorf("read shared manifest for %s: %w", blockKey, err)
	}
	return writeAtomic(localManifest, data, 0o644)
}

func splitBlockKey(key string) (node, output string) {
	idx := strings.LastIndex(key, "@")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

func readFileList(path string) (FileList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileList{}, err
	}
	var fl FileList
	if err := json.Unmarshal(data, &fl); err != nil {
		return FileList{}, err
	}
	return fl, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// MarkComplete writes node's zero-byte completion marker (locally, and in
// shared storage if sharedBlocks is non-empty), plus the private
// bookkeeping index used by CleanLocalNode/CheckLocalIntegrity.
func (s *Store) MarkComplete(node string, outputTags, blocks, sharedBlocks []string) error {
	idx := completionIndex{OutputTags: outputTags, Blocks: blocks, SharedBlocks: sharedBlocks}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.indexPath(node), data, 0o644); err != nil {
		return err
	}
	if err := writeAtomic(s.markerPath(s.LocalRoot, node), nil, 0o644); err != nil {
		return err
	}
	if len(sharedBlocks) > 0 {
		if s.SharedRoot == "" {
			return &StorageError{Op: "mark complete", Key: node, Err: fmt.Errorf("requires a shared completion marker but no shared storage is configured")}
		}
		if err := writeAtomic(s.markerPath(s.SharedRoot, node), nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// IsComplete reports whether node's local completion marker is present.
func (s *Store) IsComplete(node string) bool {
	return fileExists(s.markerPath(s.LocalRoot, node))
}

// CheckLocalIntegrity reports whether node's local cache is still valid:
// every manifest file's length and timestamp must match the current
// workspace file, every tag in the node's index must have a file-list, and
// (strengthening the baseline rule) every block the index marked as shared
// must still have a manifest present in shared storage. An invalid cache
// is deleted before returning false.
func (s *Store) CheckLocalIntegrity(node string) (bool, error) {
	idx, ok, err := s.readIndex(node)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	valid := true
	for _, tag := range idx.OutputTags {
		if !fileExists(s.fileListPath(s.LocalRoot, tag)) {
			valid = false
			break
		}
	}
	if valid {
		for _, blockKey := range idx.Blocks {
			m, err := readManifest(s.manifestPath(s.LocalRoot, blockKey))
			if err != nil {
				valid = false
				break
			}
			for _, f := range m.Files {
				info, err := os.Stat(filepath.Join(s.WorkspaceRoot, filepath.FromSlash(f.Path)))
				if err != nil || info.Size() != f.Length || ToTicks(info.ModTime()) != f.ModifiedAtTicks {
					valid = false
					break
				}
			}
			if !valid {
				break
			}
		}
	}
	if valid {
		for _, blockKey := range idx.SharedBlocks {
			if s.SharedRoot == "" || !fileExists(s.manifestPath(s.SharedRoot, blockKey)) {
				valid = false
				break
			}
		}
	}

	if !valid {
		if err := s.CleanLocalNode(node); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) readIndex(node string) (completionIndex, bool, error) {
	data, err := os.ReadFile(s.indexPath(node))
	if err != nil {
		if os.IsNotExist(err) {
			return completionIndex{}, false, nil
		}
		return completionIndex{}, false, err
	}
	var idx completionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return completionIndex{}, false, err
	}
	return idx, true, nil
}

// CleanLocalNode removes node's local marker, index, manifests, and
// file-lists. Shared archives are never removed: they remain the source
// of truth for other agents.
func (s *Store) CleanLocalNode(node string) error {
	idx, ok, err := s.readIndex(node)
	if err != nil {
		return err
	}
	if ok {
		for _, blockKey := range idx.Blocks {
			os.Remove(s.manifestPath(s.LocalRoot, blockKey))
		}
		for _, tag := range idx.OutputTags {
			os.Remove(s.fileListPath(s.LocalRoot, tag))
		}
	}
	os.Remove(s.markerPath(s.LocalRoot, node))
	os.Remove(s.indexPath(node))
	return nil
}

// CleanLocal removes local state for every Node this Store has a
// completion index for.
func (s *Store) CleanLocal() error {
	entries, err := os.ReadDir(filepath.Join(s.LocalRoot, "index"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		node := strings.TrimSuffix(e.Name(), ".json")
		if err := s.CleanLocalNode(node); err != nil {
			return err
		}
	}
	return nil
}
