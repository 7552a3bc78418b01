package nestedfilter

// Plugin rewrites a composed condition before it is returned to the
// resolver. Plugins run in registration order, each receiving the output of
// the previous one.
type Plugin interface {
	ProcessWhere(where Condition, inv *Invocation, opts any) Condition
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(where Condition, inv *Invocation, opts any) Condition

func (f PluginFunc) ProcessWhere(where Condition, inv *Invocation, opts any) Condition {
	return f(where, inv, opts)
}

// Extension contributes extra sub-conditions to every composition. They are
// appended after the incoming where argument and before mapping fragments.
type Extension interface {
	PopulateConditions(inv *Invocation, opts any) []any
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(inv *Invocation, opts any) []any

func (f ExtensionFunc) PopulateConditions(inv *Invocation, opts any) []any {
	return f(inv, opts)
}

func processWhere(plugins []Plugin, where Condition, inv *Invocation, opts any) Condition {
	for _, p := range plugins {
		where = p.ProcessWhere(where, inv, opts)
	}
	return where
}
