package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDSN is a private in-memory database.
const DefaultDSN = ":memory:"

// Row is one record keyed by field name.
type Row = map[string]any

// Store reads and writes model rows in SQLite and filters them with
// compiled conditions.
type Store struct {
	db     *sql.DB
	models Models
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens the SQLite database at dsn for the given models.
func Open(dsn string, models Models, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer and in-memory databases live per
	// connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, models: models, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate executes a DDL script.
func (s *Store) Migrate(ctx context.Context, ddl string) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// FindMany returns the rows of model matching where, ordered by id. The
// result is never nil.
func (s *Store) FindMany(ctx context.Context, model string, where map[string]any) ([]Row, error) {
	m, err := s.models.lookup(model)
	if err != nil {
		return nil, err
	}
	pred, params, err := NewCompiler(s.models).Compile(model, where)
	if err != nil {
		return nil, fmt.Errorf("compile %s filter: %w", model, err)
	}

	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = "t0." + f.Column
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS t0 WHERE %s ORDER BY t0.id ASC COLLATE BINARY",
		strings.Join(cols, ", "), m.Table, pred)
	s.logger.DebugContext(ctx, "store query", "model", model, "sql", query, "params", params)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		dest := make([]any, len(m.Fields))
		ptrs := make([]any, len(m.Fields))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", model, err)
		}
		row := make(Row, len(m.Fields))
		for i, f := range m.Fields {
			if b, ok := dest[i].([]byte); ok {
				dest[i] = string(b)
			}
			row[f.Name] = dest[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s rows: %w", model, err)
	}
	return out, nil
}

// FindUnique returns the row of model with the given id, or nil.
func (s *Store) FindUnique(ctx context.Context, model string, id any) (Row, error) {
	rows, err := s.FindMany(ctx, model, map[string]any{"id": id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Create inserts row into model and reads it back.
func (s *Store) Create(ctx context.Context, model string, row Row) (Row, error) {
	m, err := s.models.lookup(model)
	if err != nil {
		return nil, err
	}
	id, ok := row["id"]
	if !ok || id == nil {
		return nil, fmt.Errorf("create %s: missing id", model)
	}
	var (
		cols   []string
		marks  []string
		params []any
	)
	for _, f := range m.Fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Column)
		marks = append(marks, "?")
		params = append(params, v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	s.logger.DebugContext(ctx, "store exec", "model", model, "sql", query, "params", params)
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return nil, fmt.Errorf("create %s: %w", model, err)
	}
	return s.FindUnique(ctx, model, id)
}

// Update sets the given fields of the row of model with id and reads it
// back. It returns nil when no row matched.
func (s *Store) Update(ctx context.Context, model string, id any, changes Row) (Row, error) {
	m, err := s.models.lookup(model)
	if err != nil {
		return nil, err
	}
	var (
		sets   []string
		params []any
	)
	for _, f := range m.Fields {
		v, ok := changes[f.Name]
		if !ok || f.Name == "id" {
			continue
		}
		sets = append(sets, f.Column+" = ?")
		params = append(params, v)
	}
	if len(sets) == 0 {
		return s.FindUnique(ctx, model, id)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", m.Table, strings.Join(sets, ", "))
	params = append(params, id)
	s.logger.DebugContext(ctx, "store exec", "model", model, "sql", query, "params", params)
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return nil, fmt.Errorf("update %s: %w", model, err)
	}
	return s.FindUnique(ctx, model, id)
}
