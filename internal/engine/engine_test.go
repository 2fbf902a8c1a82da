package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
	"github.com/buildgraph/buildgraph/internal/jobtoken"
	"github.com/buildgraph/buildgraph/internal/tempstorage"
)

// writeTask is a stand-in for a real task: it writes relPath under root with
// content, then records relPath under outputTag. calls, if non-nil, counts
// invocations so tests can assert a Node was (or wasn't) re-run.
type writeTask struct {
	root      string
	relPath   string
	content   string
	outputTag string
	calls     *int
}

func (t *writeTask) Execute(tagMap map[string][]string) error {
	if t.calls != nil {
		*t.calls++
	}
	full := filepath.Join(t.root, t.relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, []byte(t.content), 0o644); err != nil {
		return err
	}
	tagMap[t.outputTag] = append(tagMap[t.outputTag], t.relPath)
	return nil
}

func (t *writeTask) InputTags() []string  { return nil }
func (t *writeTask) OutputTags() []string { return []string{t.outputTag} }

// tamperTask overwrites an existing file in place, simulating a task that
// mutates an input it only read.
type tamperTask struct {
	root    string
	relPath string
}

func (t *tamperTask) Execute(map[string][]string) error {
	return os.WriteFile(filepath.Join(t.root, t.relPath), []byte("tampered contents"), 0o644)
}
func (t *tamperTask) InputTags() []string  { return nil }
func (t *tamperTask) OutputTags() []string { return nil }

func newNode(name string, agent *graphmodel.Agent, trigger *graphmodel.Trigger) *graphmodel.Node {
	n := &graphmodel.Node{
		Name:    name,
		Inputs:  map[string]*graphmodel.NodeOutput{},
		Agent:   agent,
		Trigger: trigger,
	}
	n.Outputs = []*graphmodel.NodeOutput{{Tag: "#" + name, Producer: n}}
	return n
}

func newStore(t *testing.T, workspaceRoot string) *tempstorage.Store {
	t.Helper()
	localRoot := filepath.Join(t.TempDir(), "local")
	sharedRoot := filepath.Join(t.TempDir(), "shared")
	return tempstorage.New(workspaceRoot, localRoot, sharedRoot)
}

func TestExecuteAll_TwoNodesOneTagFlow(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "b-out.txt", content: "world", outputTag: b.Outputs[0].Tag}}

	agent.Nodes = []*graphmodel.Node{a, b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)

	require.NoError(t, eng.ExecuteAll(context.Background()))

	assert.True(t, storage.IsComplete("A"))
	assert.True(t, storage.IsComplete("B"))

	flA, err := storage.Retrieve(context.Background(), "#A")
	require.NoError(t, err)
	assert.Equal(t, []string{"a-out.txt"}, flA.Files)

	flB, err := storage.Retrieve(context.Background(), "#B")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-out.txt"}, flB.Files)
}

func TestExecuteAll_CrossAgentNeedsSharedStorage(t *testing.T) {
	root := t.TempDir()
	agent1 := &graphmodel.Agent{Name: "Build"}
	agent2 := &graphmodel.Agent{Name: "Test"}

	a := newNode("A", agent1, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent2, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "b-out.txt", content: "world", outputTag: b.Outputs[0].Tag}}

	agent1.Nodes = []*graphmodel.Node{a}
	agent2.Nodes = []*graphmodel.Node{b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent1, agent2}

	storage := newStore(t, root)
	eng := New(g, storage)

	require.NoError(t, eng.ExecuteAll(context.Background()))

	block := tempstorage.Block{Node: "A"}.Key()
	sharedManifest := filepath.Join(storage.SharedRoot, "manifests", block+".manifest.json")
	assert.FileExists(t, sharedManifest)
}

func TestExecuteAll_SameAgentNoSharedStorageNeeded(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "b-out.txt", content: "world", outputTag: b.Outputs[0].Tag}}

	agent.Nodes = []*graphmodel.Node{a, b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)

	require.NoError(t, eng.ExecuteAll(context.Background()))

	block := tempstorage.Block{Node: "A"}.Key()
	sharedManifest := filepath.Join(storage.SharedRoot, "manifests", block+".manifest.json")
	assert.NoFileExists(t, sharedManifest)
}

func TestExecuteAll_TamperDetectionFailsNode(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&tamperTask{root: root, relPath: "a-out.txt"}}

	agent.Nodes = []*graphmodel.Node{a, b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)

	err := eng.ExecuteAll(context.Background())
	require.Error(t, err)
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "B", integrityErr.Node)
}

func TestExecuteAll_DetectsExternalTamperBetweenRuns(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	var bCalls int
	b := newNode("B", agent, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "b-out.txt", content: "world", outputTag: b.Outputs[0].Tag, calls: &bCalls}}

	agent.Nodes = []*graphmodel.Node{a, b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)

	require.NoError(t, New(g, storage).ExecuteSingle(context.Background(), "A"))
	require.True(t, storage.IsComplete("A"))

	// A's output is modified outside of any Node's own execution, between A
	// completing and B starting in a separate invocation.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a-out.txt"), []byte("tampered from outside"), 0o644))

	err := New(g, storage).ExecuteSingle(context.Background(), "B")
	require.Error(t, err)
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "B", integrityErr.Node)
	assert.Equal(t, 0, bCalls, "B must not start once a tampered input is detected")
}

func TestExecuteAll_DuplicateFileAcrossBlocksDiagnosesAndContinues(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "shared.txt", content: "from-a", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent, nil)
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "shared.txt", content: "from-b", outputTag: b.Outputs[0].Tag}}

	c := newNode("C", agent, nil)
	c.Inputs["#A"] = a.Outputs[0]
	c.Inputs["#B"] = b.Outputs[0]
	c.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "c-out.txt", content: "done", outputTag: c.Outputs[0].Tag}}

	agent.Nodes = []*graphmodel.Node{a, b, c}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Nodes["C"] = c
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)

	require.NoError(t, eng.ExecuteAll(context.Background()))
	assert.True(t, storage.IsComplete("C"))

	var found bool
	for _, d := range g.Diagnostics {
		if d.Severity == graphmodel.SeverityError && strings.Contains(d.Message, "shared.txt") {
			found = true
		}
	}
	assert.True(t, found, "expected a diagnostic about shared.txt appearing in multiple input blocks, got %v", g.Diagnostics)
}

func TestExecuteAll_TokenConflictWithoutSkipFails(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	tokenPath := filepath.Join(t.TempDir(), "tokens", "shared.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(tokenPath), 0o755))
	require.NoError(t, os.WriteFile(tokenPath, []byte("some-other-job"), 0o644))

	a := newNode("A", agent, nil)
	a.Tokens = []string{tokenPath}
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}
	agent.Nodes = []*graphmodel.Node{a}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)
	eng.Tokens = jobtoken.NewManager("this-job")

	err := eng.ExecuteAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, jobtoken.ErrConflict)
	assert.False(t, storage.IsComplete("A"))
}

func TestExecuteAll_TokenConflictCascadeDropsDependents(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	tokenPath := filepath.Join(t.TempDir(), "tokens", "shared.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(tokenPath), 0o755))
	require.NoError(t, os.WriteFile(tokenPath, []byte("some-other-job"), 0o644))

	var bCalls int
	a := newNode("A", agent, nil)
	a.Tokens = []string{tokenPath}
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag}}

	b := newNode("B", agent, nil)
	b.Inputs["#A"] = a.Outputs[0]
	b.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "b-out.txt", content: "world", outputTag: b.Outputs[0].Tag, calls: &bCalls}}

	agent.Nodes = []*graphmodel.Node{a, b}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Nodes["B"] = b
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)
	eng := New(g, storage)
	eng.Tokens = jobtoken.NewManager("this-job")
	eng.SkipTargetsWithoutTokens = true

	require.NoError(t, eng.ExecuteAll(context.Background()))

	assert.False(t, storage.IsComplete("A"))
	assert.False(t, storage.IsComplete("B"))
	assert.Equal(t, 0, bCalls, "B depends on the dropped token-gated Node and must not run")
}

func TestExecuteAll_ResumeSkipsCompletedNode(t *testing.T) {
	root := t.TempDir()
	agent := &graphmodel.Agent{Name: "Build"}

	var calls int
	a := newNode("A", agent, nil)
	a.Tasks = []graphmodel.Task{&writeTask{root: root, relPath: "a-out.txt", content: "hello", outputTag: a.Outputs[0].Tag, calls: &calls}}
	agent.Nodes = []*graphmodel.Node{a}

	g := graphmodel.NewGraph()
	g.Nodes["A"] = a
	g.Agents = []*graphmodel.Agent{agent}

	storage := newStore(t, root)

	require.NoError(t, New(g, storage).ExecuteAll(context.Background()))
	assert.Equal(t, 1, calls)

	require.NoError(t, New(g, storage).ExecuteAll(context.Background()))
	assert.Equal(t, 1, calls, "a completed, still-valid Node must not re-run")
}
