package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	language "github.com/hanpama/nestgraph/internal/language"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

// coerceVariableValues coerces the provided variables to the types declared
// by op, applying declared defaults.
func coerceVariableValues(sch *schema.Schema, op *language.OperationDefinition, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		value, ok := provided[name]
		switch {
		case ok:
		case def.DefaultValue != nil:
			value = astValueToGo(def.DefaultValue)
		case def.Type.NonNull:
			return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, def.Type)
		default:
			continue
		}
		if value == nil && def.Type.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, def.Type)
		}
		v, err := coerceValue(sch, value, typeRefFromAST(def.Type))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %w", name, def.Type, err)
		}
		out[name] = v
	}
	return out, nil
}

// coerceArguments coerces the arguments given to a field and fills in
// defaults. Failures are recorded at path and the argument is left out.
func (s *executionState) coerceArguments(def *schema.Field, args language.ArgumentList, path Path) map[string]any {
	out := make(map[string]any, len(def.Arguments))
	for _, arg := range args {
		in := findInputValue(def.Arguments, arg.Name)
		if in == nil {
			continue
		}
		v, err := coerceValue(s.schema, valueFromASTWithVars(arg.Value, s.variableValues), in.Type)
		if err != nil {
			s.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err), path)
			continue
		}
		out[arg.Name] = v
	}
	for _, in := range def.Arguments {
		if _, ok := out[in.Name]; ok {
			continue
		}
		if in.DefaultValue != nil {
			out[in.Name] = in.DefaultValue
		} else if in.Type.IsNonNull() {
			s.addError(fmt.Sprintf("argument '%s' of required type was not provided", in.Name), path)
		}
	}
	return out
}

func findInputValue(list []*schema.InputValue, name string) *schema.InputValue {
	for _, in := range list {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// valueFromASTWithVars converts a literal, substituting variables at any
// depth. Unset variables become nil.
func valueFromASTWithVars(value *language.Value, vars map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return vars[value.Raw]
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromASTWithVars(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			out[c.Name] = valueFromASTWithVars(c.Value, vars)
		}
		return out
	}
	return astValueToGo(value)
}

// astValueToGo converts a constant literal.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		n, _ := strconv.Atoi(value.Raw)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(value.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			out[c.Name] = astValueToGo(c.Value)
		}
		return out
	}
	return nil
}

// coerceValue coerces an input value to t. A single value given for a list
// becomes a list of one. Custom scalars pass through unchanged.
func coerceValue(sch *schema.Schema, value any, t *schema.TypeRef) (any, error) {
	if t.IsNonNull() {
		if value == nil {
			return nil, errors.New("cannot provide null for non-null type")
		}
		return coerceValue(sch, value, t.Unwrap())
	}
	if value == nil {
		return nil, nil
	}
	if t.IsList() {
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := coerceValue(sch, item, t.Unwrap())
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	name := t.GetNamedType()
	if sch != nil {
		if it := sch.Types[name]; it != nil && it.Kind == schema.TypeKindInputObject {
			return coerceInputObject(sch, value, it)
		}
	}
	switch name {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
	case "ID":
		return coerceID(value), nil
	}
	return value, nil
}

// coerceInputObject coerces the declared fields of an input object and
// applies their defaults. Absent fields without a default stay absent;
// undeclared fields are rejected.
func coerceInputObject(sch *schema.Schema, value any, t *schema.Type) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %v (%T) to input object %s", value, value, t.Name)
	}
	for name := range in {
		if findInputValue(t.InputFields, name) == nil {
			return nil, fmt.Errorf("field '%s' is not defined by input object %s", name, t.Name)
		}
	}
	out := make(map[string]any, len(in))
	for _, f := range t.InputFields {
		v, present := in[f.Name]
		if !present {
			if f.DefaultValue != nil {
				out[f.Name] = f.DefaultValue
			} else if f.Type.IsNonNull() {
				return nil, fmt.Errorf("required field '%s' of input object %s was not provided", f.Name, t.Name)
			}
			continue
		}
		cv, err := coerceValue(sch, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

// coerceInt accepts integers and integral floats, as JSON variables decode
// to float64.
func coerceInt(value any) (any, error) {
	switch n := value.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		if f := float64(n); f == math.Trunc(f) {
			return int(f), nil
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceFloat(value any) (any, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}
