package executor

import (
	language "github.com/hanpama/nestgraph/internal/language"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

// collectedField is the group of fields sharing a response name.
type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

// collectFields flattens fragments of set that apply to objectType and
// groups the fields by response name, in order of first appearance. Fields
// excluded by @skip or @include are left out; every fragment is expanded at
// most once.
func (s *executionState) collectFields(objectType *schema.Type, set language.SelectionSet) []collectedField {
	var (
		out     []collectedField
		index   = make(map[string]int)
		visited = make(map[string]bool)
	)
	var walk func(language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, selection := range set {
			switch sel := selection.(type) {
			case *language.Field:
				if !s.included(sel.Directives) {
					continue
				}
				name := sel.Alias
				if name == "" {
					name = sel.Name
				}
				if i, ok := index[name]; ok {
					out[i].Fields = append(out[i].Fields, sel)
					continue
				}
				index[name] = len(out)
				out = append(out, collectedField{ResponseName: name, Fields: []*language.Field{sel}})

			case *language.InlineFragment:
				if s.included(sel.Directives) && s.applies(sel.TypeCondition, objectType) {
					walk(sel.SelectionSet)
				}

			case *language.FragmentSpread:
				if !s.included(sel.Directives) || visited[sel.Name] {
					continue
				}
				visited[sel.Name] = true
				def := s.document.Fragments.ForName(sel.Name)
				if def == nil || !s.applies(def.TypeCondition, objectType) || !s.included(def.Directives) {
					continue
				}
				walk(def.SelectionSet)
			}
		}
	}
	walk(set)
	return out
}

// applies reports whether a fragment with typeCondition selects on
// objectType.
func (s *executionState) applies(typeCondition string, objectType *schema.Type) bool {
	return typeCondition == "" || s.schema.PossibleType(typeCondition, objectType.Name)
}

// included evaluates @skip and @include. A directive whose condition is not
// a boolean is ignored.
func (s *executionState) included(directives language.DirectiveList) bool {
	if skip, ok := s.condition(directives, "skip"); ok && skip {
		return false
	}
	if include, ok := s.condition(directives, "include"); ok && !include {
		return false
	}
	return true
}

func (s *executionState) condition(directives language.DirectiveList, name string) (value, ok bool) {
	d := directives.ForName(name)
	if d == nil {
		return false, false
	}
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false, false
	}
	value, ok = valueFromASTWithVars(arg.Value, s.variableValues).(bool)
	return value, ok
}
