// Package taskschema describes the vocabulary of known script elements and
// the parameter schema of registered tasks, and validates bound parameter
// values against it.
package taskschema

import (
	"fmt"
)

// Kind enumerates the scalar/collection categories a task parameter may
// take, per the tagged-union parameter design called out in the Design
// Notes (prefer a tagged union over inheritance for parameter kinds).
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindEnum
	KindFileSpec
	KindTagRef
	KindTagList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindEnum:
		return "enum"
	case KindFileSpec:
		return "file-spec"
	case KindTagRef:
		return "tag-ref"
	case KindTagList:
		return "tag-list"
	default:
		return "unknown"
	}
}

// ParamSpec describes one task parameter.
type ParamSpec struct {
	Name     string
	Kind     Kind
	Optional bool
	// EnumValues constrains KindEnum parameters to this set.
	EnumValues []string
	// Validate, if set, runs on the raw string before kind conversion; Bind
	// wraps any error it returns in a ValidationError.
	Validate func(raw string) error
}

// Executor is the polymorphic unit a Node executes, once parameters have
// been bound. Concrete task semantics are out of scope for this module;
// Execute receives the mutable tag map and reports success/failure via
// error. graphmodel.Task shares this exact method set so that a bound
// Executor can be stored directly as a graphmodel.Task without any
// adapter — Go treats the two named interfaces as equivalent by method set.
type Executor interface {
	Execute(tagMap map[string][]string) error
	InputTags() []string
	OutputTags() []string
}

// TaskDescriptor is the registry entry for one task element: its element
// name, parameter schema, and constructor. Concrete task behavior lives
// entirely outside this package — core only needs the shape.
type TaskDescriptor struct {
	Element string
	Params  []ParamSpec
	// Produces/Consumes enumerate this task kind's intrinsic input/output
	// tag names beyond whatever a document's Produces/Requires attributes
	// add explicitly (most tasks declare none here and rely entirely on
	// document-level tagging).
	Produces []string
	Consumes []string
	// New binds a validated parameter set into a concrete Executor.
	New func(Bound) (Executor, error)
}

// StructuralElements are the built-in (non-task) element names the reader
// understands, independent of the task registry.
var StructuralElements = []string{
	"BuildGraph", "Include", "Option", "EnvVar", "Property", "Macro",
	"Expand", "Agent", "Node", "Aggregate", "Report", "Notify", "Trigger",
	"Label", "Warning", "Error", "Do", "ForEach", "Switch", "Case",
	"Default", "Annotation",
}

// Registry maps task element names to their descriptors. It is populated
// explicitly at process startup by each task module (see the Design Note:
// "implementers should use an explicit task registry... a plain
// registration API, not dynamic discovery").
type Registry struct {
	tasks map[string]TaskDescriptor
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: map[string]TaskDescriptor{}}
}

// Register adds a task descriptor. Registering the same element name twice
// is a programming error and panics, matching the teacher's fail-fast
// posture for registration-time misconfiguration.
func (r *Registry) Register(desc TaskDescriptor) {
	if _, exists := r.tasks[desc.Element]; exists {
		panic(fmt.Sprintf("taskschema: task element %q already registered", desc.Element))
	}
	r.tasks[desc.Element] = desc
	r.order = append(r.order, desc.Element)
}

// Lookup returns the descriptor for an element name.
func (r *Registry) Lookup(element string) (TaskDescriptor, bool) {
	d, ok := r.tasks[element]
	return d, ok
}

// Elements returns registered task element names in registration order.
func (r *Registry) Elements() []string {
	return append([]string(nil), r.order...)
}

// IsKnownElement reports whether name is either a structural element or a
// registered task element.
func (r *Registry) IsKnownElement(name string) bool {
	for _, s := range StructuralElements {
		if s == name {
			return true
		}
	}
	_, ok := r.tasks[name]
	return ok
}
