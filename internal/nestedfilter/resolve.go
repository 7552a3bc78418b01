package nestedfilter

import "fmt"

// Invocation describes the resolver call a filter is composed for.
type Invocation struct {
	ObjectType string
	Field      string
	Path       []string
	Source     any
	Args       map[string]any
	// NestedArgMap is the ancestor lookup table of the call.
	NestedArgMap *NestedArgMap
}

// Env is the evaluation environment of mapping values.
type Env struct {
	Filters    *Registry
	Invocation *Invocation

	active []filterFrame
}

type filterFrame struct {
	filter Type
	target Type
}

// NewEnv returns an environment resolving filter references through filters.
func NewEnv(filters *Registry, inv *Invocation) *Env {
	if inv == nil {
		inv = &Invocation{}
	}
	return &Env{Filters: filters, Invocation: inv}
}

// NestedArgMap returns the ancestor lookup table being evaluated against.
func (env *Env) NestedArgMap() *NestedArgMap { return env.Invocation.NestedArgMap }

// ResolveMapping resolves every entry of m. Each target starts with empty
// options.
func (env *Env) ResolveMapping(m Mapping) (MappingResults, error) {
	out := make(MappingResults, 0, m.Len())
	for _, e := range m.entries {
		r, err := env.Resolve(e.Target, e.Value, ResultOptions{})
		if err != nil {
			return nil, err
		}
		out = append(out, TypeResult{Type: e.Target, Result: r})
	}
	return out, nil
}

// Resolve evaluates v for target, threading opts.
func (env *Env) Resolve(target Type, v Value, opts ResultOptions) (Result, error) {
	switch v.kind {
	case KindLiteral:
		return Result{Mode: Assign, Where: v.literal, Options: opts}, nil
	case KindNested:
		return env.resolveNested(target, v.fields, opts)
	case KindList:
		return env.resolveList(target, v.items, opts)
	case KindValueRef:
		return env.mapValue(target, v.path, opts)
	case KindFilterRef:
		return env.mapFilter(target, v.typ, opts)
	case KindSuppressed:
		rule := IgnoreRule{Type: target, Kind: IgnoreSuppressedBy, SuppressedBy: Ref{Type: v.typ, Path: v.path}}
		return Result{Mode: Ignore, Options: opts.WithIgnore(rule)}, nil
	case KindIgnored:
		return Result{Mode: Ignore, Options: opts.WithIgnore(IgnoreRule{Type: target, Kind: IgnoreIgnored})}, nil
	case KindCustom:
		return v.eval(target, opts, env)
	}
	return Result{}, fmt.Errorf("unsupported mapping value kind %s", v.kind)
}

func (env *Env) resolveNested(target Type, members []Member, opts ResultOptions) (Result, error) {
	results := make([]Result, len(members))
	cur := opts
	for i, m := range members {
		r, err := env.Resolve(target, m.Value, cur)
		if err != nil {
			return Result{}, err
		}
		results[i] = r
		cur = r.Options
	}

	mode := combine(results)
	var where any
	if mode.Contributes() {
		obj := make(map[string]any, len(members))
		for i, m := range members {
			if results[i].Mode.Contributes() {
				obj[m.Key] = results[i].Where
			}
		}
		where = obj
	}
	return Result{Mode: mode, Where: where, Options: cur}, nil
}

func (env *Env) resolveList(target Type, items []Value, opts ResultOptions) (Result, error) {
	results := make([]Result, len(items))
	cur := opts
	for i, it := range items {
		r, err := env.Resolve(target, it, cur)
		if err != nil {
			return Result{}, err
		}
		results[i] = r
		cur = r.Options
	}

	mode := combine(results)
	var where any
	if mode.Contributes() {
		list := make([]any, 0, len(items))
		for _, r := range results {
			if r.Mode.Contributes() {
				list = append(list, r.Where)
			}
		}
		where = list
	}
	return Result{Mode: mode, Where: where, Options: cur}, nil
}

// combine folds child modes: all ASSIGN (or none) is ASSIGN, any INVALID is
// INVALID, all IGNORE is IGNORE, anything else is MERGE.
func combine(results []Result) Mode {
	allAssign, allIgnore := true, true
	for _, r := range results {
		if r.Mode != Assign {
			allAssign = false
		}
		if r.Mode != Ignore {
			allIgnore = false
		}
	}
	if allAssign {
		return Assign
	}
	for _, r := range results {
		if r.Mode == Invalid {
			return Invalid
		}
	}
	if allIgnore {
		return Ignore
	}
	return Merge
}

func (env *Env) mapValue(target Type, path string, opts ResultOptions) (Result, error) {
	typ, attrs, err := ParseTypeAttributePath(path)
	if err != nil {
		return Result{}, err
	}
	entity, ok := env.Invocation.NestedArgMap.Get(typ)
	if !ok {
		return Result{Mode: Invalid, Options: opts}, nil
	}
	where, ok := LookupPath(entity, attrs)
	if !ok {
		return Result{Mode: Invalid, Options: opts}, nil
	}
	return Result{
		Mode:    Merge,
		Where:   where,
		Options: opts.WithUsage(UsageRule{Type: target, Path: path}),
	}, nil
}

func (env *Env) mapFilter(target, filter Type, opts ResultOptions) (Result, error) {
	decl, ok := env.Filters.Lookup(filter)
	if !ok {
		return Result{}, newError(ErrFilterNotRegistered, "nested filter (%s) is not registered yet", filter)
	}
	v, ok := decl.Mapping.Get(target)
	if !ok {
		return Result{}, newError(ErrMappingNotDeclared, "mapping for type (%s) in nested filter (%s) is not declared", target, filter)
	}

	frame := filterFrame{filter: filter, target: target}
	for _, f := range env.active {
		if f == frame {
			return Result{}, newError(ErrMappingCycle, "nested filter (%s) refers to itself for type (%s)", filter, target)
		}
	}
	env.active = append(env.active, frame)
	defer func() { env.active = env.active[:len(env.active)-1] }()

	return env.Resolve(target, v, opts)
}
