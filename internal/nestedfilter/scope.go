package nestedfilter

import (
	"context"
	"reflect"
	"sync"
	"time"

	eventbus "github.com/hanpama/nestgraph/internal/eventbus"
	events "github.com/hanpama/nestgraph/internal/events"
	executor "github.com/hanpama/nestgraph/internal/executor"
)

// DefaultCacheKeyAttribute names the attribute GetNestedResult caches
// fetched entities by when no explicit key is given.
const DefaultCacheKeyAttribute = "id"

// requestState is shared by every resolver call of one request.
type requestState struct {
	tree  *Tree
	cache ResultCache
}

type stateKey struct{}
type scopeKey struct{}

func stateFromContext(ctx context.Context) *requestState {
	s, _ := ctx.Value(stateKey{}).(*requestState)
	return s
}

// Scope is the nested filter view of one resolver call. It is created before
// the resolver runs and closed once the resolver and its validation settled.
type Scope struct {
	mw    *Middleware
	state *requestState
	node  *Node
	inv   *Invocation
	path  string

	mu       sync.Mutex
	closed   bool
	touched  []Type
	recorded map[Type][]MappingResults
	fetched  map[Type]*fetchCall
}

// fetchCall is one OnGet invocation shared by concurrent GetNestedResult
// calls for the same type.
type fetchCall struct {
	done   chan struct{}
	result any
	err    error
}

// FromContext returns the scope of the resolver call ctx belongs to.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

func (s *Scope) withContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// Invocation describes the resolver call of the scope.
func (s *Scope) Invocation() *Invocation { return s.inv }

// NestedArgMap returns a snapshot of the ancestor lookup table.
func (s *Scope) NestedArgMap() *NestedArgMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inv.NestedArgMap.Clone()
}

// WithNestedFilters composes the filter for opts.Type against the ancestors
// of this call. The mapping results are kept for validation once the
// resolver returns.
func (s *Scope) WithNestedFilters(ctx context.Context, opts ComposeOptions) (Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScopeClosed
	}
	where, results, err := s.mw.composer.Compose(s.inv, opts)
	if err != nil {
		return nil, err
	}
	if _, ok := s.recorded[opts.Type]; !ok {
		s.touched = append(s.touched, opts.Type)
	}
	s.recorded[opts.Type] = append(s.recorded[opts.Type], results)

	n := 0
	if and, ok := where["AND"].([]any); ok {
		n = len(and)
	}
	eventbus.Publish(ctx, events.FilterComposed{Path: s.path, Type: string(opts.Type), Conditions: n, Where: where})
	s.mw.logger.DebugContext(ctx, "nested filter composed",
		"path", s.path, "type", string(opts.Type), "conditions", n)
	return where, nil
}

// GetOptions selects the entity GetNestedResult returns.
type GetOptions struct {
	Type Type
	// OnGet fetches the entity when no ancestor of Type is known.
	OnGet func(ctx context.Context) (any, error)
	// CacheKey enables the result cache lookup for this call.
	CacheKey any
	// CacheKeyAttribute names the attribute the fetched entity is cached by
	// when CacheKey is nil. Defaults to "id".
	CacheKeyAttribute string
	// AddNestedResult also records the fetched entity for this call and its
	// descendants.
	AddNestedResult bool
}

// GetNestedResult returns the ancestor of opts.Type, or fetches it through
// opts.OnGet. A fetched entity is reused by later calls of the same scope;
// concurrent calls for one type wait for a single OnGet.
func (s *Scope) GetNestedResult(ctx context.Context, opts GetOptions) (any, error) {
	s.mu.Lock()
	if v, ok := s.inv.NestedArgMap.Get(opts.Type); ok {
		s.mu.Unlock()
		return v, nil
	}
	if call, ok := s.fetched[opts.Type]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if opts.OnGet == nil {
		s.mu.Unlock()
		return nil, newError(ErrNestedResultNotPresent, "Nested result for (%s) is not present.", opts.Type)
	}
	call := &fetchCall{done: make(chan struct{})}
	s.fetched[opts.Type] = call
	s.mu.Unlock()

	call.result, call.err = s.fetch(ctx, opts)
	if call.err != nil {
		call.result = nil
		s.mu.Lock()
		if s.fetched[opts.Type] == call {
			delete(s.fetched, opts.Type)
		}
		s.mu.Unlock()
	}
	close(call.done)
	if call.err != nil {
		return nil, call.err
	}

	if opts.AddNestedResult {
		if err := s.AddNestedResult(opts.Type, call.result, Direct); err != nil {
			return nil, err
		}
	}
	return call.result, nil
}

func (s *Scope) fetch(ctx context.Context, opts GetOptions) (any, error) {
	cache := s.state.cache
	if opts.CacheKey != nil && cache != nil {
		v, hit := cache.Lookup(opts.Type, opts.CacheKey)
		eventbus.Publish(ctx, events.ResultCacheLookup{Type: string(opts.Type), Key: cacheKeyString(opts.CacheKey), Hit: hit})
		s.mw.logger.DebugContext(ctx, "nested result cache lookup",
			"type", string(opts.Type), "key", cacheKeyString(opts.CacheKey), "hit", hit)
		if hit {
			return v, nil
		}
	}

	result, err := opts.OnGet(ctx)
	if err != nil {
		return nil, err
	}

	key := opts.CacheKey
	if key == nil {
		if !isObject(result) {
			return nil, newError(ErrUncacheableResult, "Non object nested result for (%s) can not be cached without cache key", opts.Type)
		}
		attr := opts.CacheKeyAttribute
		if attr == "" {
			attr = DefaultCacheKeyAttribute
		}
		key = executor.Property(result, attr)
	}
	if key != nil && cache != nil {
		cache.Store(opts.Type, key, result)
	}
	return result, nil
}

// AddNestedResult records result as the entity of t. Direct results are
// visible to this call and its descendants, Children results to descendants
// only.
func (s *Scope) AddNestedResult(t Type, result any, mode AddMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	s.state.tree.Add(s.node, t, result, mode)
	if mode == Direct {
		s.inv.NestedArgMap.Set(t, result)
	}
	return nil
}

// ReplaceNestedResult overwrites every override of t recorded in the request
// and the entry of t visible to this call.
func (s *Scope) ReplaceNestedResult(t Type, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	s.state.tree.Replace(t, result)
	if s.inv.NestedArgMap.Has(t) {
		s.inv.NestedArgMap.Set(t, result)
	}
	delete(s.fetched, t)
	return nil
}

// close validates every composed type and detaches the scope.
func (s *Scope) close(ignored map[Type]bool, allowlist []Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.touched {
		if ignored[t] {
			continue
		}
		if err := ReportMissing(t, s.recorded[t], s.inv.NestedArgMap, allowlist); err != nil {
			return err
		}
	}
	return nil
}

var timeType = reflect.TypeFor[time.Time]()

// isObject reports whether v can carry attributes. Times are values, also
// behind pointers.
func isObject(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Type() == timeType {
		return false
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	}
	return false
}

// WithNestedFilters composes a filter in the resolver call of ctx.
func WithNestedFilters(ctx context.Context, opts ComposeOptions) (Condition, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	return s.WithNestedFilters(ctx, opts)
}

// GetNestedResult returns an ancestor entity in the resolver call of ctx.
func GetNestedResult(ctx context.Context, opts GetOptions) (any, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	return s.GetNestedResult(ctx, opts)
}

// AddNestedResult records an entity in the resolver call of ctx.
func AddNestedResult(ctx context.Context, t Type, result any, mode AddMode) error {
	s, ok := FromContext(ctx)
	if !ok {
		return ErrNotConfigured
	}
	return s.AddNestedResult(t, result, mode)
}

// ReplaceNestedResult replaces an entity in the request of ctx.
func ReplaceNestedResult(ctx context.Context, t Type, result any) error {
	s, ok := FromContext(ctx)
	if !ok {
		return ErrNotConfigured
	}
	return s.ReplaceNestedResult(t, result)
}

// NestedArgMapFromContext returns the ancestor lookup table of the resolver
// call of ctx.
func NestedArgMapFromContext(ctx context.Context) (*NestedArgMap, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	return s.NestedArgMap(), nil
}
