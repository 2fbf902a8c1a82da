// Package script reads the declarative build-graph document format: an
// XML-like markup layering property expansion, conditional evaluation, and
// macro expansion on top of a plain streaming XML parse, and produces a
// graphmodel.Graph.
package script

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
	"github.com/buildgraph/buildgraph/internal/properties"
	"github.com/buildgraph/buildgraph/internal/taskschema"
)

// Options configures a Reader.
type Options struct {
	// Registry supplies the known task elements.
	Registry *taskschema.Registry
	// Overrides are command-line "--set:Name=Value" assignments; they win
	// over every other source per the Option/EnvVar precedence rule.
	Overrides map[string]string
	// LookupEnv resolves a process environment variable; defaults to
	// os.LookupEnv. Tests supply a stub for determinism.
	LookupEnv func(name string) (string, bool)
}

type macroDef struct {
	name   string
	params []string
	body   []*element
}

type pendingReport struct {
	nodes      []string
	recipients []string
}

// Reader parses one or more linked documents (via <Include>) into a single
// Graph.
type Reader struct {
	registry  *taskschema.Registry
	overrides map[string]string
	lookupEnv func(string) (string, bool)

	graph *graphmodel.Graph

	macros            map[string]*macroDef
	pendingInputs     map[string][]string
	pendingAggregates map[string][]string
	pendingReports    map[string]*pendingReport
	visitedIncludes   map[string]bool
}

// NewReader constructs a Reader from opts.
func NewReader(opts Options) *Reader {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Reader{
		registry:          opts.Registry,
		overrides:         opts.Overrides,
		lookupEnv:         lookup,
		macros:            map[string]*macroDef{},
		pendingInputs:     map[string][]string{},
		pendingAggregates: map[string][]string{},
		pendingReports:    map[string]*pendingReport{},
		visitedIncludes:   map[string]bool{},
		graph:             graphmodel.NewGraph(),
	}
}

// ReadFile parses the document at path and every file it transitively
// includes, returning the fully resolved Graph. Any parse error or
// unresolved reference aborts the whole read.
func (r *Reader) ReadFile(path string, defaults map[string]string) (*graphmodel.Graph, error) {
	env := properties.NewEnvironment(defaults)
	if err := r.readFile(path, env, nil, nil, filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := r.finalize(); err != nil {
		return nil, err
	}
	if err := r.graph.Validate(); err != nil {
		return nil, err
	}
	return r.graph, nil
}

func (r *Reader) readFile(path string, env *properties.Environment, agent *graphmodel.Agent, trigger *graphmodel.Trigger, baseDir string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &ParseError{File: path, Message: err.Error()}
	}
	if r.visitedIncludes[abs] {
		return &ParseError{File: path, Message: "include cycle detected"}
	}
	r.visitedIncludes[abs] = true

	f, err := os.Open(path)
	if err != nil {
		return &ParseError{File: path, Message: err.Error()}
	}
	defer f.Close()

	root, err := parseDocument(f)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
			return pe
		}
		return &ParseError{File: path, Message: err.Error()}
	}
	if root.Name != "BuildGraph" {
		return &ParseError{File: path, Message: "root element must be <BuildGraph>, got <" + root.Name + ">"}
	}
	return r.processChildren(root.Children, env, agent, trigger, filepath.Dir(path))
}

// shouldProcess evaluates an element's If attribute (if any) against env.
func shouldProcess(el *element, env *properties.Environment) (bool, error) {
	raw, ok := el.attr("If")
	if !ok {
		return true, nil
	}
	expanded, err := env.Expand(raw)
	if err != nil {
		return false, &ParseError{Element: el.Name, Message: err.Error()}
	}
	cond, err := properties.Parse(expanded)
	if err != nil {
		return false, &ParseError{Element: el.Name, Message: err.Error()}
	}
	result, err := cond.Eval(env)
	if err != nil {
		return false, &ParseError{Element: el.Name, Message: err.Error()}
	}
	return result, nil
}

// expandAttrs expands every attribute value of el against env, skipping "If"
// (already consumed by shouldProcess).
func expandAttrs(el *element, env *properties.Environment) (map[string]string, error) {
	out := make(map[string]string, len(el.Attrs))
	for k, v := range el.Attrs {
		if k == "If" {
			continue
		}
		expanded, err := env.Expand(v)
		if err != nil {
			return nil, &ParseError{Element: el.Name, Message: err.Error()}
		}
		out[k] = expanded
	}
	return out, nil
}

func (r *Reader) processChildren(children []*element, env *properties.Environment, agent *graphmodel.Agent, trigger *graphmodel.Trigger, baseDir string) error {
	for _, child := range children {
		ok, err := shouldProcess(child, env)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.dispatch(child, env, agent, trigger, baseDir); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) dispatch(el *element, env *properties.Environment, agent *graphmodel.Agent, trigger *graphmodel.Trigger, baseDir string) error {
	attrs, err := expandAttrs(el, env)
	if err != nil {
		return err
	}

	switch el.Name {
	case "Include":
		rel := attrs["Path"]
		path := rel
		if !filepath.IsAbs(rel) {
			path = filepath.Join(baseDir, rel)
		}
		return r.readFile(path, env, agent, trigger, baseDir)

	case "Option", "EnvVar":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: el.Name, Message: "Name attribute is required"}
		}
		resolved := r.resolveImport(name, attrs["Default"])
		env.Set(name, resolved)
		return nil

	case "Property":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Property", Message: "Name attribute is required"}
		}
		env.Set(name, attrs["Value"])
		return nil

	case "Macro":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Macro", Message: "Name attribute is required"}
		}
		var params []string
		if p := el.Attrs["Params"]; p != "" {
			params = properties.SplitOnAny(p, ";")
		}
		r.macros[name] = &macroDef{name: name, params: params, body: el.Children}
		return nil

	case "Expand":
		name := attrs["Macro"]
		def, ok := r.macros[name]
		if !ok {
			return &ParseError{Element: "Expand", Message: fmt.Sprintf("unknown macro %q", name)}
		}
		childEnv := env.Clone()
		for _, p := range def.params {
			raw, ok := el.attr(p)
			if !ok {
				raw = ""
			}
			v, err := env.Expand(raw)
			if err != nil {
				return &ParseError{Element: "Expand", Message: err.Error()}
			}
			childEnv.Set(p, v)
		}
		return r.processChildren(def.body, childEnv, agent, trigger, baseDir)

	case "Trigger":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Trigger", Message: "Name attribute is required"}
		}
		parent := trigger
		if parentName, ok := attrs["Parent"]; ok && parentName != "" {
			p, ok := r.graph.Triggers[parentName]
			if !ok {
				return &ParseError{Element: "Trigger", Message: fmt.Sprintf("unknown parent trigger %q", parentName)}
			}
			parent = p
		}
		t := &graphmodel.Trigger{Name: name, Parent: parent}
		r.graph.Triggers[name] = t
		return r.processChildren(el.Children, env.Clone(), agent, t, baseDir)

	case "Agent":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Agent", Message: "Name attribute is required"}
		}
		a := &graphmodel.Agent{Name: name}
		if mt := attrs["MachineTypes"]; mt != "" {
			a.MachineTypes = properties.SplitOnAny(mt, ";")
		}
		r.graph.Agents = append(r.graph.Agents, a)
		return r.processChildren(el.Children, env.Clone(), a, trigger, baseDir)

	case "Node":
		return r.finalizeNode(el, attrs, env.Clone(), agent, trigger)

	case "Aggregate":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Aggregate", Message: "Name attribute is required"}
		}
		r.pendingAggregates[name] = properties.SplitOnAny(attrs["Nodes"], ";")
		return nil

	case "Report":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "Report", Message: "Name attribute is required"}
		}
		pr := &pendingReport{nodes: properties.SplitOnAny(attrs["Nodes"], ";")}
		for _, child := range el.Children {
			if child.Name == "Notify" {
				if recip, ok := child.attr("Recipients"); ok {
					pr.recipients = append(pr.recipients, properties.SplitOnAny(recip, ";")...)
				}
			}
		}
		r.pendingReports[name] = pr
		return nil

	case "ForEach":
		name := attrs["Name"]
		if name == "" {
			return &ParseError{Element: "ForEach", Message: "Name attribute is required"}
		}
		sep := attrs["Separator"]
		if sep == "" {
			sep = ";"
		}
		for _, item := range properties.SplitOnAny(attrs["Values"], sep) {
			iterEnv := env.Clone()
			iterEnv.Set(name, item)
			if err := r.processChildren(el.Children, iterEnv, agent, trigger, baseDir); err != nil {
				return err
			}
		}
		return nil

	case "Switch":
		var defaultCase *element
		for _, child := range el.Children {
			switch child.Name {
			case "Case":
				ok, err := shouldProcess(child, env)
				if err != nil {
					return err
				}
				if ok {
					return r.processChildren(child.Children, env.Clone(), agent, trigger, baseDir)
				}
			case "Default":
				defaultCase = child
			}
		}
		if defaultCase != nil {
			return r.processChildren(defaultCase.Children, env.Clone(), agent, trigger, baseDir)
		}
		return nil

	case "Do":
		return r.processChildren(el.Children, env, agent, trigger, baseDir)

	case "Warning", "Error":
		sev := graphmodel.SeverityWarning
		if el.Name == "Error" {
			sev = graphmodel.SeverityError
		}
		r.graph.Diagnostics = append(r.graph.Diagnostics, graphmodel.Diagnostic{
			Severity: sev,
			Message:  attrs["Message"],
			Trigger:  triggerNameOf(trigger),
		})
		return nil

	case "Label", "Annotation":
		return nil

	default:
		return &ParseError{Element: el.Name, Message: "unknown element at this scope"}
	}
}

func (r *Reader) resolveImport(name, def string) string {
	if v, ok := r.overrides[name]; ok {
		return v
	}
	if r.lookupEnv != nil {
		if v, ok := r.lookupEnv(name); ok {
			return v
		}
	}
	return def
}

func triggerNameOf(t *graphmodel.Trigger) string {
	if t == nil {
		return ""
	}
	return t.Name
}
