package tasks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/buildgraph/buildgraph/internal/filespec"
	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// copyTask copies the files matched by Source into Dest, recording the
// destination paths under Output.
type copyTask struct {
	root   string
	source string
	dest   string
	output string
}

func copyDescriptor(root string) taskschema.TaskDescriptor {
	return taskschema.TaskDescriptor{
		Element: "Copy",
		Params: []taskschema.ParamSpec{
			{Name: "Source", Kind: taskschema.KindFileSpec},
			{Name: "Dest", Kind: taskschema.KindString},
			{Name: "Output", Kind: taskschema.KindString},
		},
		New: func(b taskschema.Bound) (taskschema.Executor, error) {
			source, err := requireString(b, "Source")
			if err != nil {
				return nil, err
			}
			dest, err := requireString(b, "Dest")
			if err != nil {
				return nil, err
			}
			output, err := requireString(b, "Output")
			if err != nil {
				return nil, err
			}
			return &copyTask{root: root, source: source, dest: dest, output: output}, nil
		},
	}
}

func (t *copyTask) Execute(tagMap map[string][]string) error {
	files, err := filespec.Resolve(t.root, t.source, tagLookup(tagMap))
	if err != nil {
		return fmt.Errorf("copy: resolve Source: %w", err)
	}
	destDir := filepath.Join(t.root, t.dest)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("copy: create Dest: %w", err)
	}

	var produced []string
	for _, src := range files {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy: %s: %w", src, err)
		}
		rel, err := filepath.Rel(t.root, dst)
		if err != nil {
			rel = dst
		}
		produced = append(produced, filepath.ToSlash(rel))
	}
	appendUnique(tagMap, t.output, produced...)
	return nil
}

func (t *copyTask) InputTags() []string  { return nil }
func (t *copyTask) OutputTags() []string { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
