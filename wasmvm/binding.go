package wasmvm

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/clearcut-bridge/errors"
)

// Binding maps managed classes onto the exports of a guest module.
type Binding struct {
	Classes []ClassBinding
}

// ClassBinding describes one class. Classes without members are still
// resolvable and can be used as result classes.
type ClassBinding struct {
	Name    string
	Methods []MethodBinding
	Fields  []FieldBinding
}

// MethodBinding binds a method, constructor or static method to a guest
// export. Params is the export's parameter list in WIT notation, for
// example "self: s32, payload: s32". Instance methods take the receiver
// handle first; every other argument is an object handle. Result is the
// WIT result type, empty for none. When ResultClass is set the result is an
// object handle of that class and null when zero.
type MethodBinding struct {
	Name        string
	Signature   string
	Export      string
	Params      string
	Result      string
	ResultClass string
	Static      bool
}

// FieldBinding binds a static int field to an exported i32 global.
type FieldBinding struct {
	Name      string
	Signature string
	Global    string
}

// Class returns the binding for name.
func (b *Binding) Class(name string) (*ClassBinding, bool) {
	for i := range b.Classes {
		if b.Classes[i].Name == name {
			return &b.Classes[i], true
		}
	}
	return nil, false
}

// Without returns a copy of b with every method and field called member
// removed from class.
func (b Binding) Without(class, member string) Binding {
	out := Binding{Classes: make([]ClassBinding, 0, len(b.Classes))}
	for _, c := range b.Classes {
		if c.Name == class {
			nc := ClassBinding{Name: c.Name}
			for _, m := range c.Methods {
				if m.Name != member {
					nc.Methods = append(nc.Methods, m)
				}
			}
			for _, f := range c.Fields {
				if f.Name != member {
					nc.Fields = append(nc.Fields, f)
				}
			}
			c = nc
		}
		out.Classes = append(out.Classes, c)
	}
	return out
}

// checkExport validates a method binding against the guest's definition of
// its export.
func checkExport(cls string, mb *MethodBinding, def api.FunctionDefinition) error {
	params, err := lowerList(mb.Params)
	if err != nil {
		return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
			Type(cls).Member(mb.Name).Signature(mb.Signature).
			Detail("params of %s", mb.Export).
			Cause(err).
			Build()
	}
	var results []api.ValueType
	if r := strings.TrimSpace(mb.Result); r != "" && r != "()" {
		results, err = lowerList(r)
		if err != nil {
			return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
				Type(cls).Member(mb.Name).Signature(mb.Signature).
				Detail("result of %s", mb.Export).
				Cause(err).
				Build()
		}
	}

	if !sameTypes(params, def.ParamTypes()) || !sameTypes(results, def.ResultTypes()) {
		return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
			Type(cls).Member(mb.Name).Signature(mb.Signature).
			Detail("export %s is %s -> %s, binding declares %s -> %s",
				mb.Export, typeNames(def.ParamTypes()), typeNames(def.ResultTypes()),
				typeNames(params), typeNames(results)).
			Build()
	}

	for i, p := range params {
		if p != api.ValueTypeI32 {
			return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
				Type(cls).Member(mb.Name).Signature(mb.Signature).
				Detail("param %d of %s must be an i32 handle", i, mb.Export).
				Build()
		}
	}
	if len(results) > 1 || (len(results) == 1 && results[0] != api.ValueTypeI32) {
		return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
			Type(cls).Member(mb.Name).Signature(mb.Signature).
			Detail("result of %s must be a single i32", mb.Export).
			Build()
	}
	if mb.ResultClass != "" && len(results) == 0 {
		return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
			Type(cls).Member(mb.Name).Signature(mb.Signature).
			Detail("object result declared but %s returns nothing", mb.Export).
			Build()
	}
	return nil
}

// lowerList parses a WIT parameter or result list into core value types.
// Names before a colon are ignored.
func lowerList(s string) ([]api.ValueType, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	var out []api.ValueType
	for _, p := range splitParams(s) {
		typStr := p
		if idx := strings.LastIndex(p, ":"); idx != -1 {
			typStr = strings.TrimSpace(p[idx+1:])
		}
		t, err := wit.ParseType(typStr)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "parse type "+typStr)
		}
		vt, ok := lower(t)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseRuntime, "type "+typStr+" has no flat core representation")
		}
		out = append(out, vt)
	}
	return out, nil
}

func lower(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return api.ValueTypeI32, true
	case wit.S64, wit.U64:
		return api.ValueTypeI64, true
	case wit.F32:
		return api.ValueTypeF32, true
	case wit.F64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

// splitParams splits a parameter list, handling nested brackets.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}
