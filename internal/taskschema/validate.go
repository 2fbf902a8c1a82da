package taskschema

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidationError reports a task parameter that failed binding or
// validation.
type ValidationError struct {
	Task  string
	Param string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task %s: parameter %s=%q: %v", e.Task, e.Param, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	errMissingRequired = errors.New("required parameter not set")
	errNotBool         = errors.New("value is not a valid boolean")
	errNotInt          = errors.New("value is not a valid integer")
	errNotEnum         = errors.New("value is not one of the allowed enum values")
)

// Bound is the result of binding a document's raw attribute strings
// against a TaskDescriptor's parameter schema: a validated value per
// parameter, keyed by parameter name.
type Bound struct {
	Strings map[string]string
	Bools   map[string]bool
	Ints    map[string]int64
}

// Bind validates raw (attribute name -> raw string value) against desc's
// parameter schema and returns the typed, bound values.
func Bind(desc TaskDescriptor, raw map[string]string) (Bound, error) {
	bound := Bound{
		Strings: map[string]string{},
		Bools:   map[string]bool{},
		Ints:    map[string]int64{},
	}
	for _, p := range desc.Params {
		v, ok := raw[p.Name]
		if !ok {
			if p.Optional {
				continue
			}
			return Bound{}, &ValidationError{Task: desc.Element, Param: p.Name, Err: errMissingRequired}
		}
		if p.Validate != nil {
			if err := p.Validate(v); err != nil {
				return Bound{}, &ValidationError{Task: desc.Element, Param: p.Name, Value: v, Err: err}
			}
		}
		switch p.Kind {
		case KindBool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Bound{}, &ValidationError{Task: desc.Element, Param: p.Name, Value: v, Err: errNotBool}
			}
			bound.Bools[p.Name] = b
		case KindInt:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Bound{}, &ValidationError{Task: desc.Element, Param: p.Name, Value: v, Err: errNotInt}
			}
			bound.Ints[p.Name] = n
		case KindEnum:
			if !containsString(p.EnumValues, v) {
				return Bound{}, &ValidationError{Task: desc.Element, Param: p.Name, Value: v, Err: errNotEnum}
			}
			bound.Strings[p.Name] = v
		default: // string, file-spec, tag-ref, tag-list are carried as raw strings
			bound.Strings[p.Name] = v
		}
	}
	return bound, nil
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
