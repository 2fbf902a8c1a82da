// Package tasks provides a small set of concrete task implementations
// (Copy, Spawn, Stamp) registered through taskschema.Registry. These exist
// to exercise the registry end to end in tests and examples; they are not
// a production task catalog.
package tasks

import (
	"fmt"

	"github.com/buildgraph/buildgraph/internal/filespec"
	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// Register adds the Copy, Spawn, and Stamp task descriptors to r. root is
// the workspace root every task resolves its relative paths against.
func Register(r *taskschema.Registry, root string) {
	r.Register(copyDescriptor(root))
	r.Register(spawnDescriptor(root))
	r.Register(stampDescriptor(root))
}

func tagLookup(tagMap map[string][]string) filespec.TagLookup {
	return func(tag string) ([]string, bool) {
		files, ok := tagMap["#"+tag]
		return files, ok
	}
}

func appendUnique(tagMap map[string][]string, tag string, files ...string) {
	existing := tagMap[tag]
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			existing = append(existing, f)
		}
	}
	tagMap[tag] = existing
}

func requireString(b taskschema.Bound, name string) (string, error) {
	v, ok := b.Strings[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}
