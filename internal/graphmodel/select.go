package graphmodel

import (
	"fmt"
	"sort"
)

// Select retains exactly the transitive input closure of targets (Node
// names, Aggregate names, or tag references) and drops everything else:
// Nodes, Aggregates, and Reports not referenced become absent, and empty
// Agents are dropped. Triggers are not trimmed: g.Triggers keeps every
// Trigger, including those no kept Node runs under.
func (g *Graph) Select(targets []string) error {
	keep := map[string]bool{}
	var queue []*Node
	for _, t := range targets {
		nodes, err := g.ResolveReference(t)
		if err != nil {
			return err
		}
		queue = append(queue, nodes...)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if keep[n.Name] {
			continue
		}
		keep[n.Name] = true
		for _, dep := range g.directDependencies(n) {
			if !keep[dep.Name] {
				queue = append(queue, dep)
			}
		}
	}

	g.retainNodes(keep)
	return nil
}

// retainNodes drops every Node not named in keep, along with Agents that
// become empty, Aggregates whose members are gone, and Reports that no
// longer name any kept Node.
func (g *Graph) retainNodes(keep map[string]bool) {
	for name := range g.Nodes {
		if !keep[name] {
			delete(g.Nodes, name)
		}
	}
	var agents []*Agent
	for _, a := range g.Agents {
		var nodes []*Node
		for _, n := range a.Nodes {
			if keep[n.Name] {
				nodes = append(nodes, n)
			}
		}
		a.Nodes = nodes
		if len(nodes) > 0 {
			agents = append(agents, a)
		}
	}
	g.Agents = agents

	for name, members := range g.Aggregates {
		var kept []*Node
		for _, n := range members {
			if keep[n.Name] {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(g.Aggregates, name)
		} else {
			g.Aggregates[name] = kept
		}
	}

	for name, r := range g.Reports {
		var kept []*Node
		for _, n := range r.Nodes {
			if keep[n.Name] {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(g.Reports, name)
		} else {
			r.Nodes = kept
		}
	}
}

// FilterToTrigger retains only Nodes whose controlling trigger is name or a
// descendant of it (inclusive), dropping everything ahead of or unrelated
// to that point in the trigger tree.
func (g *Graph) FilterToTrigger(name string) error {
	t, ok := g.Triggers[name]
	if !ok {
		return fmt.Errorf("%w: trigger %q", ErrUnresolvedReference, name)
	}
	keep := map[string]bool{}
	for n, node := range g.Nodes {
		if t.IsAncestorOf(node.Trigger) {
			keep[n] = true
		}
	}
	g.retainNodes(keep)
	return nil
}

// SkipTriggers removes every Node whose controlling trigger is in
// triggerNames, or nested under one of them. It is an error for a
// surviving Node to have required a Node removed this way.
func (g *Graph) SkipTriggers(triggerNames []string) error {
	skip := map[string]*Trigger{}
	for _, name := range triggerNames {
		t, ok := g.Triggers[name]
		if !ok {
			return fmt.Errorf("%w: trigger %q", ErrUnresolvedReference, name)
		}
		skip[name] = t
	}

	dropped := map[string]bool{}
	for name, n := range g.Nodes {
		for _, t := range skip {
			if t.IsAncestorOf(n.Trigger) {
				dropped[name] = true
				break
			}
		}
	}

	for name := range dropped {
		delete(g.Nodes, name)
	}

	// Any surviving Node that required a dropped Node's output is an error.
	for _, name := range g.sortedNodeNames() {
		n := g.Nodes[name]
		for tag, out := range n.Inputs {
			if out.Producer != nil && dropped[out.Producer.Name] {
				return fmt.Errorf("%w: node %s requires tag %s produced by skipped node %s",
					ErrUnresolvedReference, n.Name, tag, out.Producer.Name)
			}
		}
	}

	keep := map[string]bool{}
	for name := range g.Nodes {
		keep[name] = true
	}
	g.retainNodes(keep)
	return nil
}

// Validate enforces the Graph's structural invariants: tag uniqueness,
// resolvable inputs, unique node/agent names, acyclicity, and the
// controlling-trigger-ancestor rule for every consumer.
func (g *Graph) Validate() error {
	tagProducer := map[string]string{}
	for _, name := range g.sortedNodeNames() {
		n := g.Nodes[name]
		for _, out := range n.Outputs {
			if existing, ok := tagProducer[out.Tag]; ok && existing != n.Name {
				return fmt.Errorf("%w: %s produced by both %s and %s", ErrDuplicateTag, out.Tag, existing, n.Name)
			}
			tagProducer[out.Tag] = n.Name
		}
	}

	agentNames := map[string]bool{}
	for _, a := range g.Agents {
		if agentNames[a.Name] {
			return fmt.Errorf("%w: agent %s", ErrDuplicateNode, a.Name)
		}
		agentNames[a.Name] = true
	}

	for _, name := range g.sortedNodeNames() {
		n := g.Nodes[name]
		for tag, out := range n.Inputs {
			if out == nil || out.Producer == nil {
				return fmt.Errorf("%w: tag %s required by %s", ErrUnresolvedReference, tag, n.Name)
			}
			if !out.Producer.Trigger.IsAncestorOf(n.Trigger) {
				return fmt.Errorf("%w: %s (trigger %s) reads %s from %s (trigger %s)",
					ErrCrossTrigger, n.Name, triggerName(n.Trigger), tag, out.Producer.Name, triggerName(out.Producer.Trigger))
			}
		}
	}

	return g.CheckAcyclic()
}

func triggerName(t *Trigger) string {
	if t == nil {
		return "(none)"
	}
	return t.Name
}

// SortedReportNames returns Report names in stable, alphabetical order.
func (g *Graph) SortedReportNames() []string {
	names := make([]string, 0, len(g.Reports))
	for n := range g.Reports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
