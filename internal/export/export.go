// Package export renders a Graph as the stable JSON document external
// schedulers consume: triggers, agent/trigger groups, per-node dependency
// and notification metadata, and the dependency edge list.
package export

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
)

// TriggerInfo describes one Trigger and its parent, if any.
type TriggerInfo struct {
	Name   string `json:"Name"`
	Parent string `json:"Parent,omitempty"`
}

// GroupInfo is one Agent instance: its name, candidate machine types, and
// the Nodes it owns (filtered per Build's trigger/completed arguments).
type GroupInfo struct {
	Name       string   `json:"Name"`
	AgentTypes []string `json:"AgentTypes,omitempty"`
	Nodes      []string `json:"Nodes"`
}

// NodeInfo is one Node's exported metadata.
type NodeInfo struct {
	Name             string   `json:"Name"`
	DependsOn        []string `json:"DependsOn"`
	RunAfter         []string `json:"RunAfter,omitempty"`
	Notify           []string `json:"Notify,omitempty"`
	NotifyOnWarnings bool     `json:"NotifyOnWarnings"`
}

// ReportInfo is one named Report grouping.
type ReportInfo struct {
	Name   string   `json:"Name"`
	Nodes  []string `json:"Nodes"`
	Notify []string `json:"Notify,omitempty"`
}

// Edge is one producer -> consumer dependency, labeled with the tag that
// carries it. Not part of the spec-documented schema; an additive field
// for consumers that want the dependency graph without recomputing it
// from DependsOn.
type Edge struct {
	From string `json:"From"`
	To   string `json:"To"`
	Tag  string `json:"Tag"`
}

// Document is the full exported shape: Groups, Nodes, Triggers, and
// Reports, per the external-scheduler manifest schema.
type Document struct {
	Groups   []GroupInfo  `json:"Groups"`
	Nodes    []NodeInfo   `json:"Nodes"`
	Triggers []TriggerInfo `json:"Triggers"`
	Reports  []ReportInfo `json:"Reports"`
	Edges    []Edge       `json:"Edges,omitempty"`
}

// Build renders g into a Document, keeping only Nodes at or after trigger
// (trigger == nil keeps everything) and excluding Nodes already present in
// completed.
func Build(g *graphmodel.Graph, trigger *graphmodel.Trigger, completed map[string]bool) Document {
	doc := Document{}

	triggerNames := make([]string, 0, len(g.Triggers))
	for name := range g.Triggers {
		triggerNames = append(triggerNames, name)
	}
	sort.Strings(triggerNames)
	for _, name := range triggerNames {
		t := g.Triggers[name]
		parent := ""
		if t.Parent != nil {
			parent = t.Parent.Name
		}
		doc.Triggers = append(doc.Triggers, TriggerInfo{Name: name, Parent: parent})
	}

	kept := map[string]bool{}
	for _, a := range g.Agents {
		var agentNodes []*graphmodel.Node
		for _, n := range a.Nodes {
			if aheadOfTrigger(trigger, n.Trigger) && !completed[n.Name] {
				agentNodes = append(agentNodes, n)
				kept[n.Name] = true
			}
		}
		if len(agentNodes) == 0 {
			continue
		}
		names := make([]string, len(agentNodes))
		for i, n := range agentNodes {
			names[i] = n.Name
		}
		doc.Groups = append(doc.Groups, GroupInfo{
			Name:       a.Name,
			AgentTypes: a.MachineTypes,
			Nodes:      names,
		})

		for i, n := range agentNodes {
			info := NodeInfo{
				Name:             n.Name,
				DependsOn:        dependencyNames(n),
				Notify:           n.NotifyRecipients,
				NotifyOnWarnings: n.NotifyOnWarnings,
			}
			if i > 0 {
				info.RunAfter = []string{agentNodes[i-1].Name}
			}
			doc.Nodes = append(doc.Nodes, info)

			for _, dep := range info.DependsOn {
				for tag, out := range n.Inputs {
					if out.Producer != nil && out.Producer.Name == dep {
						doc.Edges = append(doc.Edges, Edge{From: dep, To: n.Name, Tag: tag})
					}
				}
			}
		}
	}

	for _, name := range g.SortedReportNames() {
		r := g.Reports[name]
		var names []string
		for _, n := range r.Nodes {
			if kept[n.Name] {
				names = append(names, n.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		doc.Reports = append(doc.Reports, ReportInfo{Name: name, Nodes: names, Notify: r.NotifyRecipients})
	}

	return doc
}

// Write renders Build's result as indented JSON.
func Write(w io.Writer, g *graphmodel.Graph, trigger *graphmodel.Trigger, completed map[string]bool) error {
	doc := Build(g, trigger, completed)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func aheadOfTrigger(trigger, candidate *graphmodel.Trigger) bool {
	if trigger == nil {
		return true
	}
	return trigger.IsAncestorOf(candidate)
}

func dependencyNames(n *graphmodel.Node) []string {
	seen := map[string]bool{}
	var names []string
	for _, out := range n.Inputs {
		if out.Producer == nil || seen[out.Producer.Name] {
			continue
		}
		seen[out.Producer.Name] = true
		names = append(names, out.Producer.Name)
	}
	sort.Strings(names)
	return names
}
