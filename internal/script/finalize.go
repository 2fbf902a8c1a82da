package script

import (
	"fmt"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
)

// finalize resolves every deferred cross-reference collected while reading:
// Node input tags, Aggregate membership, and Report membership. These can
// only be resolved once the whole document (and every Include) has been
// read, since a Node may declare Requires on a tag produced later in
// document order.
func (r *Reader) finalize() error {
	producers := r.graph.AllProducerTags()

	for nodeName, tags := range r.pendingInputs {
		n, ok := r.graph.Nodes[nodeName]
		if !ok {
			continue
		}
		if n.Inputs == nil {
			n.Inputs = map[string]*graphmodel.NodeOutput{}
		}
		for _, tag := range tags {
			out, ok := producers[tag]
			if !ok {
				return fmt.Errorf("%w: node %s requires %s", graphmodel.ErrUnresolvedReference, nodeName, tag)
			}
			n.Inputs[tag] = out
		}
	}

	for name, rawNodes := range r.pendingAggregates {
		members := make([]*graphmodel.Node, 0, len(rawNodes))
		for _, nn := range rawNodes {
			n, ok := r.graph.Nodes[nn]
			if !ok {
				return fmt.Errorf("%w: aggregate %s references node %s", graphmodel.ErrUnresolvedReference, name, nn)
			}
			members = append(members, n)
		}
		r.graph.Aggregates[name] = members
	}

	for name, pr := range r.pendingReports {
		nodes := make([]*graphmodel.Node, 0, len(pr.nodes))
		for _, nn := range pr.nodes {
			n, ok := r.graph.Nodes[nn]
			if !ok {
				return fmt.Errorf("%w: report %s references node %s", graphmodel.ErrUnresolvedReference, name, nn)
			}
			nodes = append(nodes, n)
		}
		r.graph.Reports[name] = &graphmodel.Report{Name: name, Nodes: nodes, NotifyRecipients: pr.recipients}
	}

	return nil
}
