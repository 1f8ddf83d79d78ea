// Package runtime holds the closed set of backend server adapters. Each
// adapter translates an abstract launch request into a concrete command line
// plus a readiness probe; the supervisor never knows which variant it is
// driving.
package runtime

import (
	"fmt"
	"math"
	"strings"

	"modelzoo/pkg/types"
)

// Definition is the static description of one configured adapter instance.
type Definition struct {
	Name     string
	Formats  []string
	Protocol Protocol
	Params   []types.RuntimeParameter
}

// Adapter is implemented by every runtime variant. BuildCommand is called
// only with parameters that passed ResolveParams against the adapter's own
// schema.
type Adapter interface {
	Definition() Definition
	BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error)
}

// ValidationError rejects a launch before any process is spawned.
type ValidationError struct{ msg string }

func (e ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a launch validation failure.
func IsValidation(err error) bool {
	_, ok := err.(ValidationError)
	return ok
}

// CheckFormat rejects models whose format the adapter cannot serve. A
// definition listing "*" accepts any format.
func CheckFormat(def Definition, model types.ModelDescriptor) error {
	for _, f := range def.Formats {
		if f == "*" || strings.EqualFold(f, model.ModelFormat) {
			return nil
		}
	}
	return validationErrorf("runtime %s does not support model format %q (supported: %s)",
		def.Name, model.ModelFormat, strings.Join(def.Formats, ","))
}

// ResolveParams validates the supplied parameters against the schema and
// fills defaults, returning the effective parameter map. Unknown keys, type
// mismatches and unknown enum options all fail.
func ResolveParams(def Definition, supplied map[string]any) (map[string]any, error) {
	byName := make(map[string]types.RuntimeParameter, len(def.Params))
	for _, p := range def.Params {
		byName[p.Name] = p
	}
	for k := range supplied {
		if _, ok := byName[k]; !ok {
			return nil, validationErrorf("runtime %s: unknown parameter %q", def.Name, k)
		}
	}
	resolved := make(map[string]any, len(def.Params))
	for _, p := range def.Params {
		raw, ok := supplied[p.Name]
		if !ok {
			if p.Default == nil {
				return nil, validationErrorf("runtime %s: parameter %q is required", def.Name, p.Name)
			}
			raw = p.Default
		}
		v, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}
		resolved[p.Name] = v
	}
	return resolved, nil
}

func coerce(p types.RuntimeParameter, raw any) (any, error) {
	switch p.Type {
	case types.ParamBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case types.ParamInt:
		switch n := raw.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			// JSON numbers decode as float64; accept only integral values.
			if n == math.Trunc(n) {
				return int(n), nil
			}
		}
	case types.ParamEnum:
		s, ok := raw.(string)
		if !ok {
			break
		}
		if _, known := p.Options[s]; !known {
			return nil, validationErrorf("parameter %q: unknown option %q", p.Name, s)
		}
		return s, nil
	case types.ParamString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	default:
		return nil, validationErrorf("parameter %q has unsupported type %q", p.Name, p.Type)
	}
	return nil, validationErrorf("parameter %q: expected %s, got %T", p.Name, p.Type, raw)
}

// helpers shared by the variants

func paramInt(params map[string]any, name string) int {
	if v, ok := params[name].(int); ok {
		return v
	}
	return 0
}

func paramBool(params map[string]any, name string) bool {
	v, _ := params[name].(bool)
	return v
}

func paramString(params map[string]any, name string) string {
	v, _ := params[name].(string)
	return v
}

// appendExtraArgs splits a free-form extra_args string on whitespace and
// appends the fields.
func appendExtraArgs(cmd []string, params map[string]any) []string {
	extra := strings.TrimSpace(paramString(params, "extra_args"))
	if extra == "" {
		return cmd
	}
	return append(cmd, strings.Fields(extra)...)
}
