package filespec

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
}

func TestResolveWildcards(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"src/a.go",
		"src/b.go",
		"src/pkg/c.go",
		"docs/readme.md",
	)

	files, err := Resolve(root, "src/....go", nil)
	require.NoError(t, err)
	rel := toRel(t, root, files)
	sort.Strings(rel)
	require.Equal(t, []string{"src/a.go", "src/b.go", "src/pkg/c.go"}, rel)
}

func TestResolveSingleSegmentStar(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "src/a.go", "src/pkg/c.go")

	files, err := Resolve(root, "src/*.go", nil)
	require.NoError(t, err)
	rel := toRel(t, root, files)
	require.Equal(t, []string{"src/a.go"}, rel)
}

func TestResolveSubtraction(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "src/a.go", "src/b.go")

	files, err := Resolve(root, "src/....go;-src/b.go", nil)
	require.NoError(t, err)
	rel := toRel(t, root, files)
	require.Equal(t, []string{"src/a.go"}, rel)
}

func TestResolveTagReference(t *testing.T) {
	lookup := func(tag string) ([]string, bool) {
		if tag == "Out" {
			return []string{"/ws/out1.bin", "/ws/out2.bin"}, true
		}
		return nil, false
	}
	files, err := Resolve("/ws", "#Out", lookup)
	require.NoError(t, err)
	require.Equal(t, []string{"/ws/out1.bin", "/ws/out2.bin"}, files)

	_, err = Resolve("/ws", "#Missing", lookup)
	require.Error(t, err)
}

func toRel(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		r, err := filepath.Rel(root, f)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(r)
	}
	return out
}
