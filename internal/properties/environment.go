// Package properties implements the property environment and macro
// expansion described in the script model: a case-insensitive name/value
// map merged from defaults, imported environment variables, command-line
// overrides, and <Property> assignments, plus $(Name) macro expansion.
package properties

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExpansionCycle is returned when expanding a value would recurse
// through the same property name more than once.
var ErrExpansionCycle = errors.New("property expansion cycle")

// Environment is a case-insensitive property map. The zero value is usable.
type Environment struct {
	values map[string]string // keyed by lower-cased name
	names  map[string]string // lower-cased name -> original-cased name
}

// NewEnvironment builds an Environment from an initial set of values.
func NewEnvironment(initial map[string]string) *Environment {
	e := &Environment{}
	for k, v := range initial {
		e.Set(k, v)
	}
	return e
}

// Clone returns an independent copy of the environment, used when entering
// a new scope (Agent, Trigger, ForEach, Switch, Macro expansion).
func (e *Environment) Clone() *Environment {
	c := &Environment{}
	for k, v := range e.values {
		if c.values == nil {
			c.values = map[string]string{}
			c.names = map[string]string{}
		}
		c.values[k] = v
		c.names[k] = e.names[k]
	}
	return c
}

// Set assigns a property value, later calls winning over earlier ones.
func (e *Environment) Set(name, value string) {
	if e.values == nil {
		e.values = map[string]string{}
		e.names = map[string]string{}
	}
	key := strings.ToLower(name)
	e.values[key] = value
	e.names[key] = name
}

// Get returns the raw (unexpanded) value for name, and whether it is set.
// Unknown names are treated by callers as expanding to the empty string.
func (e *Environment) Get(name string) (string, bool) {
	if e.values == nil {
		return "", false
	}
	v, ok := e.values[strings.ToLower(name)]
	return v, ok
}

// Names returns the original-cased property names currently set.
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.names))
	for _, n := range e.names {
		names = append(names, n)
	}
	return names
}

// Merge layers overlay's values on top of base, returning a new Environment.
// Values in overlay win on conflict, matching the merge order described in
// the data model (defaults, then env imports, then CLI overrides, then
// document-order <Property> assignments).
func Merge(base, overlay *Environment) *Environment {
	out := base.Clone()
	if overlay == nil {
		return out
	}
	for key, v := range overlay.values {
		out.Set(overlay.names[key], v)
	}
	return out
}

const maxExpansionDepth = 64

// Expand replaces every $(Name) reference in s with the corresponding
// property value, re-scanning the result until no references remain.
// Unknown names expand to the empty string. A name that participates in
// its own expansion chain, directly or transitively, is reported as
// ErrExpansionCycle.
func (e *Environment) Expand(s string) (string, error) {
	return e.expand(s, nil, 0)
}

func (e *Environment) expand(s string, stack []string, depth int) (string, error) {
	if depth > maxExpansionDepth {
		return "", fmt.Errorf("%w: expansion nested more than %d levels deep", ErrExpansionCycle, maxExpansionDepth)
	}
	var out strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "$(")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])
		end := strings.IndexByte(s[start+2:], ')')
		if end < 0 {
			// Unterminated reference: emit verbatim.
			out.WriteString(s[start:])
			break
		}
		end += start + 2
		name := s[start+2 : end]
		for _, seen := range stack {
			if strings.EqualFold(seen, name) {
				return "", fmt.Errorf("%w: %s", ErrExpansionCycle, name)
			}
		}
		raw, _ := e.Get(name)
		expanded, err := e.expand(raw, append(stack, name), depth+1)
		if err != nil {
			return "", err
		}
		out.WriteString(expanded)
		i = end + 1
	}
	return out.String(), nil
}
