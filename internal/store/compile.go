package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Compiler turns filter conditions into parameterised SQLite predicates.
//
// A condition is a map whose keys are AND, OR, NOT, field names or relation
// names. Fields take a scalar (equality), nil (IS NULL) or an operator map
// (equals, not, in, notIn, lt, lte, gt, gte, contains, startsWith,
// endsWith). To-one relations take a nested condition, nil, or {is, isNot};
// to-many relations take {some, none, every}. Keys are compiled in sorted
// order so equal conditions yield equal SQL. Values are never interpolated.
type Compiler struct {
	models Models
	next   int
	params []any
}

func NewCompiler(models Models) *Compiler {
	return &Compiler{models: models}
}

// Compile returns the predicate for rows of model aliased t0.
func (c *Compiler) Compile(model string, where map[string]any) (string, []any, error) {
	m, err := c.models.lookup(model)
	if err != nil {
		return "", nil, err
	}
	c.next, c.params = 1, nil
	sql, err := c.compileWhere(m, "t0", where)
	if err != nil {
		return "", nil, err
	}
	return sql, c.params, nil
}

func (c *Compiler) compileWhere(m *Model, alias string, where map[string]any) (string, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		part, err := c.compileKey(m, alias, k, where[k])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return join(parts, " AND ", "1 = 1"), nil
}

func (c *Compiler) compileKey(m *Model, alias, key string, value any) (string, error) {
	switch key {
	case "AND", "OR", "NOT":
		subs, err := conditionList(value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		parts := make([]string, 0, len(subs))
		for _, sub := range subs {
			part, err := c.compileWhere(m, alias, sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		switch key {
		case "AND":
			return join(parts, " AND ", "1 = 1"), nil
		case "OR":
			return join(parts, " OR ", "1 = 0"), nil
		}
		return "NOT (" + join(parts, " AND ", "1 = 1") + ")", nil
	}

	if col, ok := m.column(key); ok {
		return c.compileField(alias+"."+col, key, value)
	}
	if rel, ok := m.Relations[key]; ok {
		if rel.Many {
			return c.compileToMany(alias, key, rel, value)
		}
		return c.compileToOne(alias, key, rel, value)
	}
	return "", fmt.Errorf("unknown field %q on %s", key, m.Name)
}

func (c *Compiler) compileField(col, name string, value any) (string, error) {
	if value == nil {
		return col + " IS NULL", nil
	}
	ops, ok := value.(map[string]any)
	if !ok {
		return c.compare(col, name, "=", value)
	}
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, op := range keys {
		v := ops[op]
		var (
			part string
			err  error
		)
		switch op {
		case "equals":
			part, err = c.compileField(col, name, v)
		case "not":
			switch v.(type) {
			case nil:
				part = col + " IS NOT NULL"
			case map[string]any:
				part, err = c.compileField(col, name, v)
				part = "NOT (" + part + ")"
			default:
				part, err = c.compare(col, name, "<>", v)
			}
		case "lt":
			part, err = c.compare(col, name, "<", v)
		case "lte":
			part, err = c.compare(col, name, "<=", v)
		case "gt":
			part, err = c.compare(col, name, ">", v)
		case "gte":
			part, err = c.compare(col, name, ">=", v)
		case "in", "notIn":
			part, err = c.compileIn(col, name, op == "notIn", v)
		case "contains", "startsWith", "endsWith":
			part, err = c.compileLike(col, name, op, v)
		default:
			err = fmt.Errorf("unknown operator %q on field %q", op, name)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return join(parts, " AND ", "1 = 1"), nil
}

func (c *Compiler) compare(col, name, op string, value any) (string, error) {
	if !isScalar(value) {
		return "", fmt.Errorf("unsupported value %T for field %q", value, name)
	}
	c.params = append(c.params, value)
	return col + " " + op + " ?", nil
}

func (c *Compiler) compileIn(col, name string, negate bool, value any) (string, error) {
	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return "", fmt.Errorf("field %q: in expects a list, got %T", name, value)
	}
	if rv.Len() == 0 {
		if negate {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	marks := make([]string, rv.Len())
	for i := range marks {
		v := rv.Index(i).Interface()
		if !isScalar(v) {
			return "", fmt.Errorf("unsupported value %T for field %q", v, name)
		}
		c.params = append(c.params, v)
		marks[i] = "?"
	}
	op := " IN ("
	if negate {
		op = " NOT IN ("
	}
	return col + op + strings.Join(marks, ", ") + ")", nil
}

func (c *Compiler) compileLike(col, name, op string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %q: %s expects a string, got %T", name, op, value)
	}
	s = likeEscaper.Replace(s)
	switch op {
	case "contains":
		s = "%" + s + "%"
	case "startsWith":
		s = s + "%"
	case "endsWith":
		s = "%" + s
	}
	c.params = append(c.params, s)
	return col + ` LIKE ? ESCAPE '\'`, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (c *Compiler) compileToOne(alias, name string, rel Relation, value any) (string, error) {
	if value == nil {
		return alias + "." + rel.Local + " IS NULL", nil
	}
	where, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("relation %q expects a condition, got %T", name, value)
	}
	_, hasIs := where["is"]
	_, hasIsNot := where["isNot"]
	if !hasIs && !hasIsNot {
		return c.exists(alias, rel, where, false, false)
	}
	var parts []string
	if hasIs {
		is, err := optionalCondition(where["is"])
		if err != nil {
			return "", fmt.Errorf("relation %q: %w", name, err)
		}
		if is == nil {
			parts = append(parts, alias+"."+rel.Local+" IS NULL")
		} else {
			part, err := c.exists(alias, rel, is, false, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
	}
	if hasIsNot {
		isNot, err := optionalCondition(where["isNot"])
		if err != nil {
			return "", fmt.Errorf("relation %q: %w", name, err)
		}
		if isNot == nil {
			parts = append(parts, alias+"."+rel.Local+" IS NOT NULL")
		} else {
			part, err := c.exists(alias, rel, isNot, true, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
	}
	return join(parts, " AND ", "1 = 1"), nil
}

func (c *Compiler) compileToMany(alias, name string, rel Relation, value any) (string, error) {
	where, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("relation %q expects {some, none, every}, got %T", name, value)
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		sub, err := optionalCondition(where[k])
		if err != nil {
			return "", fmt.Errorf("relation %q: %w", name, err)
		}
		var part string
		switch k {
		case "some":
			part, err = c.exists(alias, rel, sub, false, false)
		case "none":
			part, err = c.exists(alias, rel, sub, true, false)
		case "every":
			part, err = c.exists(alias, rel, sub, true, true)
		default:
			err = fmt.Errorf("relation %q: unknown filter %q", name, k)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return join(parts, " AND ", "1 = 1"), nil
}

// exists builds a correlated sub-select over the related rows.
func (c *Compiler) exists(alias string, rel Relation, where map[string]any, negate, negateInner bool) (string, error) {
	target, err := c.models.lookup(rel.Model)
	if err != nil {
		return "", err
	}
	sub := fmt.Sprintf("t%d", c.next)
	c.next++
	inner, err := c.compileWhere(target, sub, where)
	if err != nil {
		return "", err
	}
	if negateInner {
		inner = "NOT (" + inner + ")"
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s.%s = %s.%s AND %s)",
		target.Table, sub, sub, rel.Remote, alias, rel.Local, inner)
	if negate {
		sql = "NOT " + sql
	}
	return sql, nil
}

func join(parts []string, sep, empty string) string {
	switch len(parts) {
	case 0:
		return empty
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// conditionList accepts a single condition or a list of them.
func conditionList(value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected condition, got %T", item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected condition list, got %T", value)
}

func optionalCondition(value any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected condition, got %T", value)
	}
	return m, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
