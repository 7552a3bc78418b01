package executor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
)

// ResolverFunc resolves a single field for one source value.
type ResolverFunc func(ctx context.Context, source any, args map[string]any) (any, error)

// FallbackFunc resolves fields that have no registered ResolverFunc.
type FallbackFunc func(ctx context.Context, task ResolveTask) (any, error)

// TypeResolverFunc names the object type of a value of an abstract type.
type TypeResolverFunc func(abstractType string, value any) (string, error)

// SerializerFunc converts a scalar or enum value for the response.
type SerializerFunc func(typeName string, value any) (any, error)

const (
	CallKindSync  = "sync"
	CallKindAsync = "async"
)

func ValueResolver(val any) ResolverFunc {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func ErrorResolver(err error) ResolverFunc {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one field resolution served by a FuncRuntime. Async calls of
// the same BatchResolveAsync invocation share a BatchID; sync calls have 0.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	BatchID    int
}

// FuncRuntime implements Runtime over resolvers keyed by "Type.field".
// Fields without a resolver go to the fallback, or resolve to null.
type FuncRuntime struct {
	mu           sync.Mutex
	resolvers    map[string]ResolverFunc
	fallback     FallbackFunc
	typeResolver TypeResolverFunc
	serializer   SerializerFunc
	calls        []Call
	batches      int
}

var errUnresolvedType = errors.New("cannot resolve type")

// NewFuncRuntime returns a runtime serving resolvers. Abstract types are
// resolved from a "__typename" map entry until SetTypeResolver is called.
func NewFuncRuntime(resolvers map[string]ResolverFunc) *FuncRuntime {
	rt := &FuncRuntime{resolvers: make(map[string]ResolverFunc, len(resolvers))}
	for key, f := range resolvers {
		rt.resolvers[key] = f
	}
	return rt
}

func (rt *FuncRuntime) SetResolver(objectType, field string, f ResolverFunc) {
	rt.mu.Lock()
	rt.resolvers[objectType+"."+field] = f
	rt.mu.Unlock()
}

func (rt *FuncRuntime) SetFallback(f FallbackFunc) {
	rt.mu.Lock()
	rt.fallback = f
	rt.mu.Unlock()
}

func (rt *FuncRuntime) SetTypeResolver(f TypeResolverFunc) {
	rt.mu.Lock()
	rt.typeResolver = f
	rt.mu.Unlock()
}

func (rt *FuncRuntime) SetSerializer(f SerializerFunc) {
	rt.mu.Lock()
	rt.serializer = f
	rt.mu.Unlock()
}

// serve resolves task and records the call.
func (rt *FuncRuntime) serve(ctx context.Context, task ResolveTask, kind string, batch int) (any, error) {
	rt.mu.Lock()
	f := rt.resolvers[task.ObjectType+"."+task.Field]
	fallback := rt.fallback
	rt.calls = append(rt.calls, Call{
		Kind:       kind,
		ObjectType: task.ObjectType,
		Field:      task.Field,
		Source:     task.Source,
		Args:       task.Args,
		BatchID:    batch,
	})
	rt.mu.Unlock()

	switch {
	case f != nil:
		return f(ctx, task.Source, task.Args)
	case fallback != nil:
		return fallback(ctx, task)
	}
	return nil, nil
}

func (rt *FuncRuntime) ResolveSync(ctx context.Context, task ResolveTask) (any, error) {
	return rt.serve(ctx, task, CallKindSync, 0)
}

// BatchResolveAsync serves the tasks grouped by field, groups in order of
// first appearance. Results keep the order of tasks.
func (rt *FuncRuntime) BatchResolveAsync(ctx context.Context, tasks []ResolveTask) []ResolveResult {
	if len(tasks) == 0 {
		return nil
	}
	rt.mu.Lock()
	rt.batches++
	batch := rt.batches
	rt.mu.Unlock()

	var order []string
	groups := make(map[string][]int)
	for i, task := range tasks {
		key := task.ObjectType + "." + task.Field
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]ResolveResult, len(tasks))
	for _, key := range order {
		for _, i := range groups[key] {
			v, err := rt.serve(ctx, tasks[i], CallKindAsync, batch)
			results[i] = ResolveResult{Value: v, Error: err}
		}
	}
	return results
}

func (rt *FuncRuntime) ResolveType(_ context.Context, abstractType string, value any) (string, error) {
	rt.mu.Lock()
	f := rt.typeResolver
	rt.mu.Unlock()
	if f != nil {
		return f(abstractType, value)
	}
	if name, ok := Property(value, "__typename").(string); ok {
		return name, nil
	}
	return "", errUnresolvedType
}

func (rt *FuncRuntime) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	rt.mu.Lock()
	f := rt.serializer
	rt.mu.Unlock()
	if f == nil {
		return value, nil
	}
	return f(typeName, value)
}

// Calls returns the calls served so far, in order.
func (rt *FuncRuntime) Calls() []Call {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]Call(nil), rt.calls...)
}

// PropertyResolver is a FallbackFunc projecting the field out of the source.
func PropertyResolver(_ context.Context, task ResolveTask) (any, error) {
	return Property(task.Source, task.Field), nil
}

// Property returns the named property of v, or nil when v has none.
func Property(v any, name string) any {
	out, _ := LookupProperty(v, name)
	return out
}

// LookupProperty returns the named property of v: a map entry, or an
// exported struct field matched by json tag or case-insensitive name. ok is
// false when v has no such property.
func LookupProperty(v any, name string) (out any, ok bool) {
	if m, isMap := v.(map[string]any); isMap {
		out, ok = m[name]
		return out, ok
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		if entry := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key())); entry.IsValid() {
			return entry.Interface(), true
		}
	case reflect.Struct:
		for _, sf := range reflect.VisibleFields(rv.Type()) {
			if !sf.IsExported() || sf.Anonymous {
				continue
			}
			tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if tag == name || (tag == "" && strings.EqualFold(sf.Name, name)) {
				if f, err := rv.FieldByIndexErr(sf.Index); err == nil {
					return f.Interface(), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}
