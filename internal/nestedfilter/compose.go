package nestedfilter

// DefaultWhereArgument is the resolver argument holding the incoming filter.
const DefaultWhereArgument = "where"

// ComposeOptions selects what a composition filters and how.
type ComposeOptions struct {
	// Type is the entity type being queried. Its registered declaration is
	// the default mapping.
	Type Type
	// Mapping overrides registered entries target by target.
	Mapping Mapping
	// Where is an extra mapping value resolved for Type itself.
	Where *Value
	// PluginOptions is handed to plugins and extensions untouched.
	PluginOptions any
	// ExcludeArgsWhere drops the resolver's own where argument.
	ExcludeArgsWhere bool
}

// Composer turns mappings into conditions for one set of declarations.
type Composer struct {
	Registry      *Registry
	Plugins       []Plugin
	Extensions    []Extension
	WhereArgument string
}

// Compose builds {"AND": [...]} for inv. The returned results hold the
// outcome of every mapping entry for later validation.
func (c *Composer) Compose(inv *Invocation, opts ComposeOptions) (Condition, MappingResults, error) {
	conditions := []any{}
	if !opts.ExcludeArgsWhere {
		arg := c.WhereArgument
		if arg == "" {
			arg = DefaultWhereArgument
		}
		if w, ok := inv.Args[arg]; ok && w != nil {
			conditions = append(conditions, w)
		}
	}
	for _, ext := range c.Extensions {
		conditions = append(conditions, ext.PopulateConditions(inv, opts.PluginOptions)...)
	}

	override, err := normalizeMapping(Declaration{Type: opts.Type, Mapping: opts.Mapping})
	if err != nil {
		return nil, nil, err
	}
	mapping := override
	if decl, ok := c.Registry.Lookup(opts.Type); ok {
		mapping = decl.Mapping.Override(override)
	}

	env := NewEnv(c.Registry, inv)
	results, err := env.ResolveMapping(mapping)
	if err != nil {
		return nil, nil, err
	}
	for _, tr := range results {
		if tr.Result.Mode.Contributes() && inv.NestedArgMap.Has(tr.Type) {
			conditions = append(conditions, tr.Result.Where)
		}
	}

	if opts.Where != nil {
		r, err := env.Resolve(opts.Type, *opts.Where, ResultOptions{})
		if err != nil {
			return nil, nil, err
		}
		if r.Mode.Contributes() {
			conditions = append(conditions, r.Where)
		}
	}

	return processWhere(c.Plugins, And(conditions...), inv, opts.PluginOptions), results, nil
}
