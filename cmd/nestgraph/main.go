package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hanpama/nestgraph/internal/blog"
	"github.com/hanpama/nestgraph/internal/eventbus"
	"github.com/hanpama/nestgraph/internal/nestedfilter"
	"github.com/hanpama/nestgraph/internal/otel"
	"github.com/hanpama/nestgraph/internal/server"
)

const rootUsage = `nestgraph: nested filter GraphQL demo and tools

USAGE:
  nestgraph <command> [flags]

COMMANDS:
  serve            Run the blog GraphQL endpoint with nested filters
  check            Merge & validate nested filter declarations
  explain          Run a query and print the nested result tree and filters
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>              HTTP listen address (default: :8080)
  -server.pretty                   Pretty-print JSON responses
  -server.timeout <duration>       Per-request timeout, e.g. 10s (default: 10s)
  -store.dsn <dsn>                 SQLite DSN (default: private in-memory database)
  -filters <file.yaml>             Extra nested filter declarations
  -nestedfilter.ignore <Type>      Skip validation for a type. Repeatable
  -nestedfilter.batch <n>          Max async resolvers running at once (default: 0, no cap)
  -log.level <level>               debug, info, warn or error (default: info)
  -otel.endpoint <addr>            OTLP collector endpoint
  -otel.service <name>             OpenTelemetry service name (default: nestgraph)
`

const checkUsage = `check FLAGS:
  -filters <file.yaml>     Declarations merged over the built-in ones
  (Exits non-zero on merge conflicts or unknown types)
`

const explainUsage = `explain FLAGS:
  -query <document>               GraphQL operation to run (required)
  -variables <json>               Operation variables as a JSON object
  -filters <file.yaml>            Extra nested filter declarations
  -nestedfilter.ignore <Type>     Skip validation for a type. Repeatable
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("nestgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs, stdout)
	case "explain":
		return cmdExplain(cmdArgs, stdout)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "check":
		fmt.Fprint(stdout, checkUsage)
	case "explain":
		fmt.Fprint(stdout, explainUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (s stringListFlag) types() []nestedfilter.Type {
	out := make([]nestedfilter.Type, len(s))
	for i, v := range s {
		out[i] = nestedfilter.Type(v)
	}
	return out
}

func loadFilters(path string) ([]nestedfilter.Declaration, error) {
	if path == "" {
		return nil, nil
	}
	return nestedfilter.LoadDeclarationFile(path)
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log.level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func cmdServe(args []string) error {
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	dsn := ""
	filtersFile := ""
	logLevel := "info"
	otelEndpoint := ""
	otelService := "nestgraph"
	batch := 0
	var ignored stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.StringVar(&dsn, "store.dsn", dsn, "SQLite DSN")
	fs.StringVar(&filtersFile, "filters", filtersFile, "Extra nested filter declarations")
	fs.Var(&ignored, "nestedfilter.ignore", "Skip validation for a type")
	fs.IntVar(&batch, "nestedfilter.batch", batch, "Max async resolvers running at once")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	filters, err := loadFilters(filtersFile)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	app, err := blog.New(context.Background(), blog.Config{
		DSN:     dsn,
		Seed:    true,
		Filters: filters,
		Ignored: ignored.types(),
		Logger:  logger,
		Batch:   batch,
	})
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer app.Close()

	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	h, err := app.Handler(sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	log.Printf("GraphQL server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdCheck(args []string, stdout io.Writer) error {
	filtersFile := ""
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&filtersFile, "filters", filtersFile, "Extra nested filter declarations")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}

	filters, err := loadFilters(filtersFile)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}
	reg, err := blog.NewRegistry(filters...)
	if err != nil {
		return err
	}
	for _, t := range reg.Types() {
		decl, _ := reg.Lookup(t)
		fmt.Fprintln(stdout, t)
		for _, e := range decl.Mapping.Entries() {
			fmt.Fprintf(stdout, "  %s: %s\n", e.Target, describe(e.Value))
		}
	}
	return nil
}

// describe prints the kind of a mapping value and the keys of nested ones.
func describe(v nestedfilter.Value) string {
	switch v.Kind() {
	case nestedfilter.KindNested:
		keys := make([]string, 0, len(v.Members()))
		for _, m := range v.Members() {
			keys = append(keys, m.Key)
		}
		return fmt.Sprintf("nested(%s)", strings.Join(keys, ", "))
	case nestedfilter.KindValueRef:
		_, path := v.Ref()
		return fmt.Sprintf("%s(%s)", v.Kind(), path)
	case nestedfilter.KindSuppressed:
		t, path := v.Ref()
		return fmt.Sprintf("%s(%s, %s)", v.Kind(), t, path)
	case nestedfilter.KindFilterRef:
		t, _ := v.Ref()
		return fmt.Sprintf("%s(%s)", v.Kind(), t)
	}
	return v.Kind().String()
}

func cmdExplain(args []string, stdout io.Writer) error {
	query := ""
	variables := ""
	filtersFile := ""
	var ignored stringListFlag

	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&query, "query", query, "GraphQL operation")
	fs.StringVar(&variables, "variables", variables, "Operation variables")
	fs.StringVar(&filtersFile, "filters", filtersFile, "Extra nested filter declarations")
	fs.Var(&ignored, "nestedfilter.ignore", "Skip validation for a type")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, explainUsage)
		return err
	}
	if query == "" {
		fmt.Fprint(os.Stderr, explainUsage)
		return fmt.Errorf("-query is required")
	}
	vars := map[string]any{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return fmt.Errorf("invalid -variables: %w", err)
		}
	}
	filters, err := loadFilters(filtersFile)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}

	ctx := context.Background()
	app, err := blog.New(ctx, blog.Config{
		Seed:    true,
		Filters: filters,
		Ignored: ignored.types(),
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer app.Close()

	ex, err := app.Explain(ctx, query, vars)
	if err != nil {
		return err
	}
	result, err := json.MarshalIndent(ex.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "== result\n%s\n", result)
	fmt.Fprintf(stdout, "== tree\n%s", ex.Tree.Render())
	fmt.Fprintln(stdout, "== filters")
	for _, c := range ex.Compositions {
		where, err := json.Marshal(c.Where)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s [%s]\n  %s\n", c.Path, c.Type, where)
	}
	return nil
}
