package tasks

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// spawnTask runs Command in a shell rooted at root/Dir. If Output is set,
// combined stdout/stderr is written to a log file under root and recorded
// under that tag; otherwise the task only reports success/failure.
type spawnTask struct {
	root    string
	command string
	dir     string
	output  string
}

func spawnDescriptor(root string) taskschema.TaskDescriptor {
	return taskschema.TaskDescriptor{
		Element: "Spawn",
		Params: []taskschema.ParamSpec{
			{Name: "Command", Kind: taskschema.KindString},
			{Name: "Dir", Kind: taskschema.KindString, Optional: true},
			{Name: "Output", Kind: taskschema.KindString, Optional: true},
		},
		New: func(b taskschema.Bound) (taskschema.Executor, error) {
			command, err := requireString(b, "Command")
			if err != nil {
				return nil, err
			}
			return &spawnTask{
				root:    root,
				command: command,
				dir:     b.Strings["Dir"],
				output:  b.Strings["Output"],
			}, nil
		},
	}
}

func (t *spawnTask) Execute(tagMap map[string][]string) error {
	cwd := t.root
	if t.dir != "" {
		cwd = filepath.Join(t.root, t.dir)
	}
	cmd := exec.Command("sh", "-c", t.command)
	cmd.Dir = cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	if t.output != "" {
		logDir := filepath.Join(t.root, ".buildgraph", "spawn-logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("spawn: create log dir: %w", err)
		}
		logPath := filepath.Join(logDir, sanitizeLogName(t.command)+".log")
		if err := os.WriteFile(logPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("spawn: write log: %w", err)
		}
		rel, err := filepath.Rel(t.root, logPath)
		if err != nil {
			rel = logPath
		}
		appendUnique(tagMap, t.output, filepath.ToSlash(rel))
	}

	if runErr != nil {
		return fmt.Errorf("spawn: command %q: %w: %s", t.command, runErr, buf.String())
	}
	return nil
}

func (t *spawnTask) InputTags() []string  { return nil }
func (t *spawnTask) OutputTags() []string { return nil }

func sanitizeLogName(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			r = append(r, c)
		default:
			r = append(r, '_')
		}
	}
	if len(r) > 40 {
		r = r[:40]
	}
	return string(r)
}
