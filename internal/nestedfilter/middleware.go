package nestedfilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/nestgraph/internal/eventbus"
	events "github.com/hanpama/nestgraph/internal/events"
	executor "github.com/hanpama/nestgraph/internal/executor"
)

// Middleware wraps an executor.Runtime and gives every resolver call a Scope
// holding the entities of its ancestors.
//
// Requests must be prepared with NewRequestContext. Each resolver call then
// records its source in the request tree, runs the wrapped runtime with the
// Scope installed in its context and finally validates the filters the
// resolver composed.
type Middleware struct {
	next     executor.Runtime
	registry *Registry
	composer *Composer

	ignored       []Type
	ignoredSet    map[Type]bool
	mapResultType func(string) string
	nonEntities   map[string]bool
	cache         ResultCache
	logger        *slog.Logger

	plugins       []Plugin
	extensions    []Extension
	whereArgument string
	batchLimit    int
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithIgnoredTypes excludes types from validation, both as composed types
// and as unmapped ancestors.
func WithIgnoredTypes(types ...Type) Option {
	return func(m *Middleware) { m.ignored = append(m.ignored, types...) }
}

// WithMapResultType sets the function turning a parent object type name
// into an entity type name.
func WithMapResultType(f func(string) string) Option {
	return func(m *Middleware) { m.mapResultType = f }
}

func WithPlugins(plugins ...Plugin) Option {
	return func(m *Middleware) { m.plugins = append(m.plugins, plugins...) }
}

func WithExtensions(extensions ...Extension) Option {
	return func(m *Middleware) { m.extensions = append(m.extensions, extensions...) }
}

// WithResultCache shares c across requests. Without it every request gets
// its own MemoryCache.
func WithResultCache(c ResultCache) Option {
	return func(m *Middleware) { m.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWhereArgument names the resolver argument holding the incoming filter.
func WithWhereArgument(name string) Option {
	return func(m *Middleware) { m.whereArgument = name }
}

// WithLeafTypes lists object types whose values are not entities, such as
// payload or connection wrappers. Their fields never record a source.
func WithLeafTypes(names ...string) Option {
	return func(m *Middleware) {
		for _, n := range names {
			m.nonEntities[n] = true
		}
	}
}

// WithBatchConcurrency caps how many tasks of one async batch resolve at
// once. Zero or less means no cap.
func WithBatchConcurrency(n int) Option {
	return func(m *Middleware) { m.batchLimit = n }
}

// StripMutationSuffix maps "PostMutation" to "Post".
func StripMutationSuffix(name string) string {
	if trimmed := strings.TrimSuffix(name, "Mutation"); trimmed != "" {
		return trimmed
	}
	return name
}

// Wrap returns a runtime resolving through next with nested filters of
// registry available to every resolver.
func Wrap(next executor.Runtime, registry *Registry, opts ...Option) *Middleware {
	m := &Middleware{
		next:          next,
		registry:      registry,
		mapResultType: StripMutationSuffix,
		nonEntities:   make(map[string]bool),
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.ignoredSet = make(map[Type]bool, len(m.ignored))
	for _, t := range m.ignored {
		m.ignoredSet[t] = true
	}
	m.composer = &Composer{
		Registry:      registry,
		Plugins:       m.plugins,
		Extensions:    m.extensions,
		WhereArgument: m.whereArgument,
	}
	return m
}

func (m *Middleware) Registry() *Registry { return m.registry }

// NewRequestContext prepares ctx for one request with an empty tree.
func (m *Middleware) NewRequestContext(ctx context.Context) context.Context {
	cache := m.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	return context.WithValue(ctx, stateKey{}, &requestState{tree: NewTree(), cache: cache})
}

// TreeFromContext returns the tree of the request ctx belongs to.
func TreeFromContext(ctx context.Context) (*Tree, bool) {
	s := stateFromContext(ctx)
	if s == nil {
		return nil, false
	}
	return s.tree, true
}

func (m *Middleware) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	return m.resolve(ctx, task, func(ctx context.Context) (any, error) {
		return m.next.ResolveSync(ctx, task)
	})
}

// BatchResolveAsync resolves each task in its own scope. The wrapped runtime
// receives one single-task batch per task. Failures stay with their task;
// the other tasks of the batch still resolve.
// TODO: hand the whole batch to the wrapped runtime once tasks can carry
// their own context.
func (m *Middleware) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.ResolveResult {
	results := make([]executor.ResolveResult, len(tasks))
	var g errgroup.Group
	if m.batchLimit > 0 {
		g.SetLimit(m.batchLimit)
	}
	for i, task := range tasks {
		g.Go(func() error {
			v, err := m.resolve(ctx, task, func(ctx context.Context) (any, error) {
				out := m.next.BatchResolveAsync(ctx, []executor.ResolveTask{task})
				if len(out) != 1 {
					return nil, fmt.Errorf("runtime returned %d results for 1 task", len(out))
				}
				return out[0].Value, out[0].Error
			})
			results[i] = executor.ResolveResult{Value: v, Error: err}
			return nil
		})
	}
	g.Wait() // per-task errors are in results
	return results
}

func (m *Middleware) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return m.next.ResolveType(ctx, abstractType, value)
}

func (m *Middleware) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	return m.next.SerializeLeafValue(ctx, typeName, value)
}

func (m *Middleware) resolve(ctx context.Context, task executor.ResolveTask, call func(context.Context) (any, error)) (any, error) {
	state := stateFromContext(ctx)
	if state == nil {
		return nil, ErrNotConfigured
	}
	segments := task.Path.Segments()
	node, table, err := state.tree.Descend(segments, m.entity(task))
	if err != nil {
		return nil, err
	}
	path := strings.Join(segments, ".")
	scope := &Scope{
		mw:    m,
		state: state,
		node:  node,
		path:  path,
		inv: &Invocation{
			ObjectType:   task.ObjectType,
			Field:        task.Field,
			Path:         segments,
			Source:       task.Source,
			Args:         task.Args,
			NestedArgMap: table,
		},
		recorded: make(map[Type][]MappingResults),
		fetched:  make(map[Type]*fetchCall),
	}

	start := time.Now()
	eventbus.Publish(ctx, events.ResolverStart{
		ObjectType: task.ObjectType,
		Field:      task.Field,
		Path:       path,
		Types:      typeNames(table.Types()),
	})
	if m.logger.Enabled(ctx, slog.LevelDebug) {
		m.logger.DebugContext(ctx, "nested filter resolver",
			"path", path, "nestedArgMap", spew.Sdump(table.ToMap()))
	}

	value, err := call(scope.withContext(ctx))
	if verr := scope.close(m.ignoredSet, m.ignored); verr != nil && err == nil {
		value, err = nil, verr
		var missing *MissingMappingError
		if errors.As(verr, &missing) {
			eventbus.Publish(ctx, events.FilterViolation{
				Path:    path,
				Type:    string(missing.Type),
				Missing: typeNames(missing.Missing),
			})
		}
		m.logger.ErrorContext(ctx, "nested filter violation",
			"path", path, "error", verr, "tree", state.tree.Render())
	}
	eventbus.Publish(ctx, events.ResolverFinish{
		ObjectType: task.ObjectType,
		Field:      task.Field,
		Path:       path,
		Err:        err,
		Duration:   time.Since(start),
	})
	return value, err
}

// entity returns the source of task as an entity, or nil when the call is a
// root field, returns a leaf, or its source is not an entity.
func (m *Middleware) entity(task executor.ResolveTask) *Entity {
	if len(task.Path) <= 1 || task.ReturnsLeaf || m.nonEntities[task.ObjectType] {
		return nil
	}
	if !isObject(task.Source) {
		return nil
	}
	return &Entity{Type: Type(m.mapResultType(task.ObjectType)), Value: task.Source}
}
