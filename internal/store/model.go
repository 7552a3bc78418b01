package store

import "fmt"

// Field maps an attribute name to its column.
type Field struct {
	Name   string
	Column string
}

// Relation links a model to another one. Rows are related when
// target.Remote equals owner.Local.
type Relation struct {
	Model  string
	Many   bool
	Local  string
	Remote string
}

// Model describes a table the condition compiler can filter and the store
// can read rows from. Rows are keyed by field name and every table has an
// id column.
type Model struct {
	Name      string
	Table     string
	Fields    []Field
	Relations map[string]Relation
}

func (m *Model) column(field string) (string, bool) {
	for _, f := range m.Fields {
		if f.Name == field {
			return f.Column, true
		}
	}
	return "", false
}

// Models is a closed set of models addressed by name.
type Models map[string]*Model

func NewModels(models ...*Model) (Models, error) {
	out := make(Models, len(models))
	for _, m := range models {
		if _, dup := out[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.Name)
		}
		out[m.Name] = m
	}
	for _, m := range models {
		for name, rel := range m.Relations {
			if _, ok := out[rel.Model]; !ok {
				return nil, fmt.Errorf("relation %s.%s: unknown model %q", m.Name, name, rel.Model)
			}
		}
	}
	return out, nil
}

func (ms Models) lookup(name string) (*Model, error) {
	m, ok := ms[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return m, nil
}
