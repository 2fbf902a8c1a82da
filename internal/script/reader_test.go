package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/buildgraph/internal/taskschema"
)

type stubTask struct {
	name   string
	input  string
	output string
}

func (s *stubTask) Execute(map[string][]string) error { return nil }
func (s *stubTask) InputTags() []string {
	if s.input == "" {
		return nil
	}
	return []string{s.input}
}
func (s *stubTask) OutputTags() []string { return nil }

func testRegistry() *taskschema.Registry {
	reg := taskschema.NewRegistry()
	reg.Register(taskschema.TaskDescriptor{
		Element: "Touch",
		Params: []taskschema.ParamSpec{
			{Name: "Output", Kind: taskschema.KindString},
			{Name: "Input", Kind: taskschema.KindTagRef, Optional: true},
		},
		New: func(b taskschema.Bound) (taskschema.Executor, error) {
			return &stubTask{output: b.Strings["Output"], input: b.Strings["Input"]}, nil
		},
	})
	return reg
}

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadSimpleGraph(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Agent Name="AgentA">
    <Node Name="A" Produces="Widget">
      <Touch Output="widget.txt"/>
    </Node>
    <Node Name="B">
      <Touch Output="final.txt" Input="#Widget"/>
    </Node>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "A")
	require.Contains(t, g.Nodes, "B")
	require.Contains(t, g.Nodes["B"].Inputs, "#Widget")
	require.Equal(t, "A", g.Nodes["B"].Inputs["#Widget"].Producer.Name)
}

func TestReadUnresolvedReferenceFails(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Agent Name="AgentA">
    <Node Name="A">
      <Touch Output="x.txt" Input="#DoesNotExist"/>
    </Node>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	_, err := r.ReadFile(path, nil)
	require.Error(t, err)
}

func TestReadPropertyExpansionAndIf(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Property Name="Flavor" Value="release"/>
  <Agent Name="AgentA">
    <Node Name="A" If="$(Flavor) == release">
      <Touch Output="$(Flavor).txt"/>
    </Node>
    <Node Name="B" If="$(Flavor) == debug">
      <Touch Output="debug.txt"/>
    </Node>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "A")
	require.NotContains(t, g.Nodes, "B")
}

func TestReadForEachExpandsNodes(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Agent Name="AgentA">
    <ForEach Name="Arch" Values="x86;x64">
      <Node Name="Build_$(Arch)">
        <Touch Output="$(Arch).bin"/>
      </Node>
    </ForEach>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "Build_x86")
	require.Contains(t, g.Nodes, "Build_x64")
}

func TestReadMacroExpand(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Macro Name="Stage" Params="Suffix">
    <Agent Name="Agent_$(Suffix)">
      <Node Name="Node_$(Suffix)">
        <Touch Output="$(Suffix).out"/>
      </Node>
    </Agent>
  </Macro>
  <Expand Macro="Stage" Suffix="One"/>
  <Expand Macro="Stage" Suffix="Two"/>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "Node_One")
	require.Contains(t, g.Nodes, "Node_Two")
}

func TestReadIncludeSharesEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "shared.xml", `<BuildGraph>
  <Property Name="Shared" Value="fromInclude"/>
</BuildGraph>`)
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Include Path="shared.xml"/>
  <Agent Name="AgentA">
    <Node Name="A">
      <Touch Output="$(Shared).txt"/>
    </Node>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "A")
	require.Equal(t, "fromInclude.txt", g.Nodes["A"].Tasks[0].(*stubTask).output)
}

func TestReadAggregateAndReport(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Agent Name="AgentA">
    <Node Name="A"><Touch Output="a.txt"/></Node>
    <Node Name="B"><Touch Output="b.txt"/></Node>
  </Agent>
  <Aggregate Name="All" Nodes="A;B"/>
  <Report Name="Nightly" Nodes="A;B">
    <Notify Recipients="team@example.com"/>
  </Report>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.Len(t, g.Aggregates["All"], 2)
	require.Len(t, g.Reports["Nightly"].Nodes, 2)
	require.Equal(t, []string{"team@example.com"}, g.Reports["Nightly"].NotifyRecipients)
}

func TestReadOptionPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Option Name="Config" Default="Debug"/>
  <Agent Name="AgentA">
    <Node Name="A">
      <Touch Output="$(Config).txt"/>
    </Node>
  </Agent>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry(), Overrides: map[string]string{"Config": "Release"}})
	g, err := r.ReadFile(path, nil)
	require.NoError(t, err)
	require.NotNil(t, g.Nodes["A"])
	require.Equal(t, "Release.txt", g.Nodes["A"].Tasks[0].(*stubTask).output)
}

func TestReadUnknownElementFails(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "build.xml", `<BuildGraph>
  <Bogus/>
</BuildGraph>`)

	r := NewReader(Options{Registry: testRegistry()})
	_, err := r.ReadFile(path, nil)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}
