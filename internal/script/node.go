package script

import (
	"fmt"
	"strings"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
	"github.com/buildgraph/buildgraph/internal/properties"
	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// finalizeNode builds one Node: its implicit and explicit outputs, its task
// list (recursively expanding any nested ForEach/Switch/Do), and the set of
// input tags it requires. Tag resolution against producing Nodes happens
// later, in finalize, once the whole document (and its includes) has been
// read.
func (r *Reader) finalizeNode(el *element, attrs map[string]string, env *properties.Environment, agent *graphmodel.Agent, trigger *graphmodel.Trigger) error {
	name := attrs["Name"]
	if name == "" {
		return &ParseError{Element: "Node", Message: "Name attribute is required"}
	}
	if _, exists := r.graph.Nodes[name]; exists {
		return &ParseError{Element: "Node", Message: fmt.Sprintf("duplicate node name %q", name)}
	}

	n := &graphmodel.Node{Name: name, Agent: agent, Trigger: trigger}
	n.Outputs = []*graphmodel.NodeOutput{{Tag: "#" + name, Producer: n}}
	for _, tag := range properties.SplitOnAny(attrs["Produces"], ";") {
		n.Outputs = append(n.Outputs, &graphmodel.NodeOutput{Tag: normalizeTag(tag), Producer: n})
	}
	if tok := attrs["Tokens"]; tok != "" {
		n.Tokens = properties.SplitOnAny(tok, ";")
	}

	for _, item := range properties.SplitOnAny(attrs["Requires"], ";") {
		item = strings.TrimPrefix(item, "-")
		if strings.HasPrefix(item, "#") {
			r.pendingInputs[name] = append(r.pendingInputs[name], item)
		}
	}

	if agent != nil {
		agent.Nodes = append(agent.Nodes, n)
	}
	r.graph.Nodes[name] = n

	return r.populateNodeChildren(n, el.Children, env)
}

// populateNodeChildren walks a Node's child elements, instantiating one
// Executor per recognized task element (everything else is a
// ForEach/Switch/Do/Notify/Property/If-guarded grouping construct).
func (r *Reader) populateNodeChildren(n *graphmodel.Node, children []*element, env *properties.Environment) error {
	for _, child := range children {
		ok, err := shouldProcess(child, env)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch child.Name {
		case "Notify":
			if recip, ok := child.attr("Recipients"); ok {
				n.NotifyRecipients = append(n.NotifyRecipients, properties.SplitOnAny(recip, ";")...)
			}
			if onWarnings, ok := child.attr("OnWarnings"); ok && (onWarnings == "true" || onWarnings == "True") {
				n.NotifyOnWarnings = true
			}
		case "Property":
			attrs, err := expandAttrs(child, env)
			if err != nil {
				return err
			}
			if attrs["Name"] == "" {
				return &ParseError{Element: "Property", Message: "Name attribute is required"}
			}
			env.Set(attrs["Name"], attrs["Value"])
		case "ForEach":
			attrs, err := expandAttrs(child, env)
			if err != nil {
				return err
			}
			if attrs["Name"] == "" {
				return &ParseError{Element: "ForEach", Message: "Name attribute is required"}
			}
			sep := attrs["Separator"]
			if sep == "" {
				sep = ";"
			}
			for _, item := range properties.SplitOnAny(attrs["Values"], sep) {
				iterEnv := env.Clone()
				iterEnv.Set(attrs["Name"], item)
				if err := r.populateNodeChildren(n, child.Children, iterEnv); err != nil {
					return err
				}
			}
		case "Switch":
			var defaultCase *element
			matched := false
			for _, c := range child.Children {
				switch c.Name {
				case "Case":
					ok, err := shouldProcess(c, env)
					if err != nil {
						return err
					}
					if ok && !matched {
						matched = true
						if err := r.populateNodeChildren(n, c.Children, env.Clone()); err != nil {
							return err
						}
					}
				case "Default":
					defaultCase = c
				}
			}
			if !matched && defaultCase != nil {
				if err := r.populateNodeChildren(n, defaultCase.Children, env.Clone()); err != nil {
					return err
				}
			}
		case "Do":
			if err := r.populateNodeChildren(n, child.Children, env); err != nil {
				return err
			}
		default:
			if err := r.instantiateTask(n, child, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reader) instantiateTask(n *graphmodel.Node, el *element, env *properties.Environment) error {
	desc, ok := r.registry.Lookup(el.Name)
	if !ok {
		return &ParseError{Element: el.Name, Message: "unknown task element"}
	}
	raw, err := expandAttrs(el, env)
	if err != nil {
		return err
	}
	bound, err := taskschema.Bind(desc, raw)
	if err != nil {
		return &ParseError{Element: el.Name, Message: err.Error()}
	}
	if desc.New == nil {
		return &ParseError{Element: el.Name, Message: "task has no constructor registered"}
	}
	exec, err := desc.New(bound)
	if err != nil {
		return &ParseError{Element: el.Name, Message: err.Error()}
	}
	n.Tasks = append(n.Tasks, exec)

	for _, p := range desc.Params {
		switch p.Kind {
		case taskschema.KindTagRef:
			if v, ok := bound.Strings[p.Name]; ok && v != "" {
				r.pendingInputs[n.Name] = append(r.pendingInputs[n.Name], normalizeTag(v))
			}
		case taskschema.KindTagList:
			if v, ok := bound.Strings[p.Name]; ok {
				for _, t := range properties.SplitOnAny(v, "+;") {
					r.pendingInputs[n.Name] = append(r.pendingInputs[n.Name], normalizeTag(t))
				}
			}
		}
	}
	return nil
}

func normalizeTag(tag string) string {
	if strings.HasPrefix(tag, "#") {
		return tag
	}
	return "#" + tag
}
