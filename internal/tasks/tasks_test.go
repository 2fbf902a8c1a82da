package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/buildgraph/internal/taskschema"
)

func newRegistry(t *testing.T, root string) *taskschema.Registry {
	t.Helper()
	r := taskschema.NewRegistry()
	Register(r, root)
	return r
}

func bind(t *testing.T, r *taskschema.Registry, element string, raw map[string]string) taskschema.Executor {
	t.Helper()
	desc, ok := r.Lookup(element)
	require.True(t, ok, "element %s not registered", element)
	bound, err := taskschema.Bind(desc, raw)
	require.NoError(t, err)
	exec, err := desc.New(bound)
	require.NoError(t, err)
	return exec
}

func TestCopyTaskCopiesMatchedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.txt"), []byte("hello"), 0o644))

	r := newRegistry(t, root)
	task := bind(t, r, "Copy", map[string]string{
		"Source": "src/a.txt",
		"Dest":   "out",
		"Output": "#Copied",
	})

	tagMap := map[string][]string{}
	require.NoError(t, task.Execute(tagMap))
	require.Equal(t, []string{"out/a.txt"}, tagMap["#Copied"])
	data, err := os.ReadFile(filepath.Join(root, "out", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestCopyTaskResolvesTagReference(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "gen.txt"), []byte("generated"), 0o644))

	r := newRegistry(t, root)
	task := bind(t, r, "Copy", map[string]string{
		"Source": "#Generated",
		"Dest":   "out",
		"Output": "#Copied",
	})

	tagMap := map[string][]string{"#Generated": {filepath.Join(root, "gen.txt")}}
	require.NoError(t, task.Execute(tagMap))
	require.Equal(t, []string{"out/gen.txt"}, tagMap["#Copied"])
}

func TestStampTaskWritesMarkerFile(t *testing.T) {
	root := t.TempDir()
	r := newRegistry(t, root)
	task := bind(t, r, "Stamp", map[string]string{
		"Path":   "build/stamp.txt",
		"Output": "#Stamp",
	})

	tagMap := map[string][]string{}
	require.NoError(t, task.Execute(tagMap))
	require.Equal(t, []string{"build/stamp.txt"}, tagMap["#Stamp"])
	require.FileExists(t, filepath.Join(root, "build", "stamp.txt"))
}

func TestSpawnTaskCapturesOutput(t *testing.T) {
	root := t.TempDir()
	r := newRegistry(t, root)
	task := bind(t, r, "Spawn", map[string]string{
		"Command": "echo hello-from-spawn",
		"Output":  "#Log",
	})

	tagMap := map[string][]string{}
	require.NoError(t, task.Execute(tagMap))
	require.Len(t, tagMap["#Log"], 1)
	data, err := os.ReadFile(filepath.Join(root, tagMap["#Log"][0]))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello-from-spawn")
}

func TestSpawnTaskFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	r := newRegistry(t, root)
	task := bind(t, r, "Spawn", map[string]string{
		"Command": "exit 3",
	})

	require.Error(t, task.Execute(map[string][]string{}))
}
