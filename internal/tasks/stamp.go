package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// stampTask writes a small marker file at Path containing the current time
// and records it under Output. Used as a dependency-free leaf producer in
// tests and examples.
type stampTask struct {
	root   string
	path   string
	output string
}

func stampDescriptor(root string) taskschema.TaskDescriptor {
	return taskschema.TaskDescriptor{
		Element: "Stamp",
		Params: []taskschema.ParamSpec{
			{Name: "Path", Kind: taskschema.KindString},
			{Name: "Output", Kind: taskschema.KindString},
		},
		New: func(b taskschema.Bound) (taskschema.Executor, error) {
			path, err := requireString(b, "Path")
			if err != nil {
				return nil, err
			}
			output, err := requireString(b, "Output")
			if err != nil {
				return nil, err
			}
			return &stampTask{root: root, path: path, output: output}, nil
		},
	}
}

func (t *stampTask) Execute(tagMap map[string][]string) error {
	abs := filepath.Join(t.root, t.path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("stamp: create parent dir: %w", err)
	}
	content := fmt.Sprintf("stamped %s\n", time.Now().UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("stamp: write %s: %w", t.path, err)
	}
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		rel = t.path
	}
	appendUnique(tagMap, t.output, filepath.ToSlash(rel))
	return nil
}

func (t *stampTask) InputTags() []string  { return nil }
func (t *stampTask) OutputTags() []string { return nil }
