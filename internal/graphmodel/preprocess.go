package graphmodel

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WritePreprocessed renders the Graph back into the document's XML
// vocabulary, after every <Include>, <ForEach>, <Switch>, <Macro>, and
// property expansion has already been resolved by the reader. This is the
// --preprocess output: a flat, single-file view of exactly what will run.
func (g *Graph) WritePreprocessed(w io.Writer) error {
	if _, err := io.WriteString(w, "<BuildGraph>\n"); err != nil {
		return err
	}

	triggerNames := make([]string, 0, len(g.Triggers))
	for name := range g.Triggers {
		triggerNames = append(triggerNames, name)
	}
	sort.Strings(triggerNames)
	for _, name := range triggerNames {
		t := g.Triggers[name]
		parent := ""
		if t.Parent != nil {
			parent = fmt.Sprintf(" Parent=%q", t.Parent.Name)
		}
		if _, err := fmt.Fprintf(w, "  <Trigger Name=%q%s/>\n", name, parent); err != nil {
			return err
		}
	}

	for _, a := range g.Agents {
		machineTypes := ""
		if len(a.MachineTypes) > 0 {
			machineTypes = fmt.Sprintf(" MachineTypes=%q", strings.Join(a.MachineTypes, ";"))
		}
		if _, err := fmt.Fprintf(w, "  <Agent Name=%q%s>\n", a.Name, machineTypes); err != nil {
			return err
		}
		for _, n := range a.Nodes {
			if err := writePreprocessedNode(w, n); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "  </Agent>\n"); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "</BuildGraph>\n"); err != nil {
		return err
	}
	return nil
}

func writePreprocessedNode(w io.Writer, n *Node) error {
	var produces []string
	for _, out := range n.Outputs[1:] {
		produces = append(produces, strings.TrimPrefix(out.Tag, "#"))
	}
	var requires []string
	tags := make([]string, 0, len(n.Inputs))
	for tag := range n.Inputs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	requires = tags

	attrs := fmt.Sprintf("Name=%q", n.Name)
	if len(produces) > 0 {
		attrs += fmt.Sprintf(" Produces=%q", strings.Join(produces, ";"))
	}
	if len(requires) > 0 {
		attrs += fmt.Sprintf(" Requires=%q", strings.Join(requires, ";"))
	}
	if len(n.Tokens) > 0 {
		attrs += fmt.Sprintf(" Tokens=%q", strings.Join(n.Tokens, ";"))
	}
	if _, err := fmt.Fprintf(w, "    <Node %s/>\n", attrs); err != nil {
		return err
	}
	return nil
}
