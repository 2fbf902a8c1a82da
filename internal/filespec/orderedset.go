package filespec

import (
	"io/fs"
	"os"
)

// orderedSet preserves first-insertion order while providing O(1)
// membership tests, used because file-spec accumulation is order-sensitive
// only through +/- application order, while the final listing should still
// be stable across runs for identical inputs.
type orderedSet struct {
	order []string
	index map[string]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: map[string]int{}}
}

func (s *orderedSet) addAll(files []string) {
	for _, f := range files {
		if _, ok := s.index[f]; ok {
			continue
		}
		s.index[f] = len(s.order)
		s.order = append(s.order, f)
	}
}

func (s *orderedSet) removeAll(files []string) {
	if len(s.order) == 0 {
		return
	}
	remove := map[string]struct{}{}
	for _, f := range files {
		remove[f] = struct{}{}
	}
	kept := s.order[:0:0]
	s.index = map[string]int{}
	for _, f := range s.order {
		if _, drop := remove[f]; drop {
			continue
		}
		s.index[f] = len(kept)
		kept = append(kept, f)
	}
	s.order = kept
}

func (s *orderedSet) slice() []string {
	return append([]string(nil), s.order...)
}

// fsWrap adapts a directory path to an fs.FS rooted there, for use with
// doublestar.Glob. A missing directory yields an empty (not erroring) FS
// view, since an unresolvable wildcard root should expand to no matches
// rather than abort the build.
func fsWrap(dir string) fs.FS {
	if _, err := os.Stat(dir); err != nil {
		return emptyFS{}
	}
	return os.DirFS(dir)
}

// emptyFS is an fs.FS with no entries, used when a wildcard's root
// directory does not exist.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (emptyFS) ReadDir(string) ([]fs.DirEntry, error) {
	return nil, fs.ErrNotExist
}
