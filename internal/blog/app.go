// Package blog is a small Post/Author/Comment GraphQL application whose list
// resolvers are filtered by the nested filters of their ancestors.
package blog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	eventbus "github.com/hanpama/nestgraph/internal/eventbus"
	events "github.com/hanpama/nestgraph/internal/events"
	executor "github.com/hanpama/nestgraph/internal/executor"
	language "github.com/hanpama/nestgraph/internal/language"
	nestedfilter "github.com/hanpama/nestgraph/internal/nestedfilter"
	reqid "github.com/hanpama/nestgraph/internal/reqid"
	schema "github.com/hanpama/nestgraph/internal/schema"
	server "github.com/hanpama/nestgraph/internal/server"
	store "github.com/hanpama/nestgraph/internal/store"
)

//go:embed schema.graphql
var schemaSDL string

//go:embed schema.sql
var schemaSQL string

// SDL returns the GraphQL schema of the application.
func SDL() string { return schemaSDL }

type Config struct {
	// DSN of the SQLite database. Empty means a private in-memory database.
	DSN string
	// Seed fills the database with demo rows.
	Seed bool
	// Filters are merged over the built-in declarations.
	Filters []nestedfilter.Declaration
	// Ignored types are skipped by nested filter validation.
	Ignored []nestedfilter.Type
	Logger  *slog.Logger
	// Batch caps concurrently resolving async fields. Zero means no cap.
	Batch int
}

// App wires the schema, the store and the nested filter middleware.
type App struct {
	Schema     *schema.Schema
	Store      *store.Store
	Registry   *nestedfilter.Registry
	Middleware *nestedfilter.Middleware
	Runtime    *executor.FuncRuntime

	exec *executor.Executor
}

func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sch, err := schema.BuildFromSDL(schemaSDL)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(cfg.Filters...)
	if err != nil {
		return nil, fmt.Errorf("nested filters: %w", err)
	}
	models, err := Models()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DSN, models, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx, schemaSQL); err != nil {
		st.Close()
		return nil, err
	}
	if cfg.Seed {
		if err := seed(ctx, st); err != nil {
			st.Close()
			return nil, err
		}
	}

	rt := executor.NewFuncRuntime(nil)
	(&resolvers{store: st}).register(rt)
	mw := nestedfilter.Wrap(rt, reg,
		nestedfilter.WithIgnoredTypes(cfg.Ignored...),
		nestedfilter.WithLogger(logger),
		nestedfilter.WithBatchConcurrency(cfg.Batch),
	)
	return &App{
		Schema:     sch,
		Store:      st,
		Registry:   reg,
		Middleware: mw,
		Runtime:    rt,
		exec:       executor.NewExecutor(mw, sch),
	}, nil
}

func seed(ctx context.Context, st *store.Store) error {
	for _, r := range seedRows {
		if existing, err := st.FindUnique(ctx, r.model, r.row["id"]); err != nil {
			return err
		} else if existing != nil {
			continue
		}
		if _, err := st.Create(ctx, r.model, r.row); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error { return a.Store.Close() }

// Handler serves the application over HTTP. Every operation gets its own
// nested result tree.
func (a *App) Handler(opts ...server.Option) (*server.Handler, error) {
	opts = append(opts, server.WithRequestContext(a.Middleware.NewRequestContext))
	return server.New(a.Middleware, a.Schema, opts...)
}

// Execute runs one operation in a fresh request context.
func (a *App) Execute(ctx context.Context, query string, vars map[string]any) (*executor.ExecutionResult, error) {
	res, _, err := a.execute(ctx, query, vars)
	return res, err
}

// Composition is a filter composed during an operation.
type Composition struct {
	Path  string
	Type  string
	Where map[string]any
}

// Explanation is the outcome of an operation together with the nested result
// tree it built and every filter it composed.
type Explanation struct {
	Result       *executor.ExecutionResult
	Tree         *nestedfilter.Tree
	Compositions []Composition
}

// Explain runs one operation and records how its filters were built.
// Compositions are ordered by path.
func (a *App) Explain(ctx context.Context, query string, vars map[string]any) (*Explanation, error) {
	eventbus.Ensure()
	ctx, rid := reqid.NewContext(ctx)
	var (
		mu  sync.Mutex
		out []Composition
	)
	unsubscribe := eventbus.Subscribe(func(ctx context.Context, e events.FilterComposed) {
		if id, _ := reqid.FromContext(ctx); id != rid {
			return
		}
		mu.Lock()
		out = append(out, Composition{Path: e.Path, Type: e.Type, Where: e.Where})
		mu.Unlock()
	})
	defer unsubscribe()

	res, tree, err := a.execute(ctx, query, vars)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return &Explanation{Result: res, Tree: tree, Compositions: out}, nil
}

func (a *App) execute(ctx context.Context, query string, vars map[string]any) (*executor.ExecutionResult, *nestedfilter.Tree, error) {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, nil, err
	}
	ctx = a.Middleware.NewRequestContext(ctx)
	tree, _ := nestedfilter.TreeFromContext(ctx)
	return a.exec.ExecuteRequest(ctx, doc, "", vars, nil), tree, nil
}
