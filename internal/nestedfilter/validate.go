package nestedfilter

// ReportMissing checks that every type of table is accounted for by the
// results recorded for one composed type. A type counts as accounted for
// when a non-invalid result assigned or merged it, read one of its
// attributes, ignored it, or suppressed it by a path that was itself read.
// Types in ignored are never reported.
func ReportMissing(t Type, recorded []MappingResults, table *NestedArgMap, ignored []Type) error {
	accounted := make(map[Type]bool)
	usage := make(map[Type]map[string]bool)

	for _, results := range recorded {
		for _, tr := range results {
			r := tr.Result
			if r.Mode == Invalid {
				continue
			}
			if r.Mode.Contributes() {
				accounted[tr.Type] = true
			}
			for _, rule := range r.Options.IgnoreRules {
				if rule.Kind == IgnoreIgnored {
					accounted[rule.Type] = true
				}
			}
			for _, rule := range r.Options.UsageRules {
				accounted[rule.Type] = true
				if usage[rule.Type] == nil {
					usage[rule.Type] = make(map[string]bool)
				}
				usage[rule.Type][rule.Path] = true
			}
		}
	}

	// Suppressions only count once all usages are known.
	for _, results := range recorded {
		for _, tr := range results {
			if tr.Result.Mode == Invalid {
				continue
			}
			for _, rule := range tr.Result.Options.IgnoreRules {
				if rule.Kind != IgnoreSuppressedBy {
					continue
				}
				if usage[rule.SuppressedBy.Type][rule.SuppressedBy.Path] {
					accounted[rule.Type] = true
				}
			}
		}
	}

	skip := make(map[Type]bool, len(ignored))
	for _, it := range ignored {
		skip[it] = true
	}
	var missing []Type
	for _, present := range table.Types() {
		if !accounted[present] && !skip[present] {
			missing = append(missing, present)
		}
	}
	if len(missing) > 0 {
		return &MissingMappingError{Type: t, Missing: missing}
	}
	return nil
}
