package executor

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	language "github.com/hanpama/nestgraph/internal/language"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

// Path is a response path: response names and list indices.
type Path []PathElement

// PathElement is a string response name or an int list index.
type PathElement any

// String renders the path as in error messages, e.g. "posts.[0].title".
func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		switch v := elem.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	out := make(Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// ExecuteRequest runs one operation of document. Synchronous fields are
// resolved while the selection is expanded; async fields are queued and
// resolved one batch per depth until nothing is left.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	op := selectOperation(document, operationName)
	if op == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: "operation not found"}}}
	}
	vars, err := coerceVariableValues(e.schema, op, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}
	root, err := e.rootType(op.Operation)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	s := &executionState{
		ctx:            ctx,
		runtime:        e.runtime,
		schema:         e.schema,
		document:       document,
		variableValues: vars,
		errors:         []GraphQLError{},
		nulled:         make(map[string]struct{}),
	}
	data := s.executeSelectionSet(root, op.SelectionSet, initialValue, Path{})
	for len(s.queue) > 0 {
		s.flush(data)
	}
	return &ExecutionResult{Data: data, Errors: s.errors}
}

func (e *Executor) rootType(op language.Operation) (*schema.Type, error) {
	var t *schema.Type
	switch op {
	case language.Query:
		t = e.schema.GetQueryType()
	case language.Mutation:
		t = e.schema.GetMutationType()
	case language.Subscription:
		t = e.schema.GetSubscriptionType()
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", op)
	}
	if t == nil {
		return nil, fmt.Errorf("root type not found for %s operation", op)
	}
	return t, nil
}

// selectOperation picks the operation named name, or the only operation of
// the document when name is empty.
func selectOperation(document *language.QueryDocument, name string) *language.OperationDefinition {
	if name == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0]
		}
		return nil
	}
	return document.Operations.ForName(name)
}

// executionState is the state of one operation.
type executionState struct {
	ctx            context.Context
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	errors         []GraphQLError

	// queue holds the async fields of the next batch.
	queue []pendingField
	// nulled holds top-level response names nulled by a failed non-null
	// async field. Queued work below them is dropped.
	nulled map[string]struct{}
}

// pendingField is an async field waiting for its batch.
type pendingField struct {
	task   ResolveTask
	fields []*language.Field
}

// pending fills a response slot until the batch of its field completes.
type pending struct{}

func (s *executionState) addError(message string, path Path) {
	s.errors = append(s.errors, GraphQLError{Message: message, Path: path})
}

func (s *executionState) hasErrorAt(path Path) bool {
	for _, err := range s.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

// executeSelectionSet executes the selection of one object. It returns nil
// when a non-null field below a non-root object came back null.
func (s *executionState) executeSelectionSet(objectType *schema.Type, set language.SelectionSet, source any, path Path) map[string]any {
	out := make(map[string]any)
	for _, group := range s.collectFields(objectType, set) {
		value := s.executeField(objectType, source, group.Fields, appendPath(path, group.ResponseName))

		name := group.Fields[0].Name
		if name == "__typename" {
			out[group.ResponseName] = value
			continue
		}
		def := objectType.Field(name)
		if def == nil {
			continue
		}
		if isNullish(value) {
			if def.Type.IsNonNull() && len(path) > 0 {
				return nil
			}
			value = nil
		}
		out[group.ResponseName] = value
	}
	return out
}

func (s *executionState) executeField(objectType *schema.Type, source any, fields []*language.Field, path Path) any {
	name := fields[0].Name
	if name == "__typename" {
		return objectType.Name
	}
	def := objectType.Field(name)
	if def == nil {
		s.addError(fmt.Sprintf("Cannot query field '%s' on type '%s'", name, objectType.Name), path)
		return nil
	}

	task := ResolveTask{
		ObjectType:  objectType.Name,
		Field:       name,
		Source:      source,
		Args:        s.coerceArguments(def, fields[0].Arguments, path),
		Path:        path,
		ReturnType:  def.Type,
		ReturnsLeaf: s.schema.IsLeaf(def.Type.GetNamedType()),
	}
	if def.Async {
		s.queue = append(s.queue, pendingField{task: task, fields: fields})
		return pending{}
	}

	value, err := s.runtime.ResolveSync(s.ctx, task)
	if err != nil {
		s.addError(err.Error(), path)
		value = nil
	}
	return s.completeValue(def.Type, fields, value, path)
}

// flush resolves the queued fields in one batch and completes them. Fields
// queued while completing make up the next batch.
func (s *executionState) flush(data map[string]any) {
	batch := make([]pendingField, 0, len(s.queue))
	for _, p := range s.queue {
		if !s.isNulled(p.task.Path) {
			batch = append(batch, p)
		}
	}
	s.queue = nil
	if len(batch) == 0 {
		return
	}

	tasks := make([]ResolveTask, len(batch))
	for i, p := range batch {
		tasks[i] = p.task
	}
	results := s.runtime.BatchResolveAsync(s.ctx, tasks)
	for i, p := range batch {
		if i >= len(results) {
			s.completePending(data, p, ResolveResult{
				Error: fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(tasks)),
			})
			continue
		}
		s.completePending(data, p, results[i])
	}
}

func (s *executionState) completePending(data map[string]any, p pendingField, res ResolveResult) {
	path := p.task.Path
	if s.isNulled(path) {
		return
	}
	var value any
	if res.Error != nil {
		s.addError(res.Error.Error(), path)
	} else {
		value = s.completeValue(p.task.ReturnType, p.fields, res.Value, path)
	}
	if isNullish(value) {
		if p.task.ReturnType.IsNonNull() {
			s.nullTopLevel(data, path)
			return
		}
		value = nil
	}
	setAt(data, path, value)
}

func (s *executionState) nullTopLevel(data map[string]any, path Path) {
	name := topLevelName(path)
	if name == "" {
		return
	}
	data[name] = nil
	s.nulled[name] = struct{}{}
}

func (s *executionState) isNulled(path Path) bool {
	_, ok := s.nulled[topLevelName(path)]
	return ok
}

func topLevelName(path Path) string {
	if len(path) == 0 {
		return ""
	}
	name, _ := path[0].(string)
	return name
}

// setAt stores value at path below data. Nothing is written when an object
// or list on the way is missing or null.
func setAt(data map[string]any, path Path, value any) {
	var container any = data
	last := len(path) - 1
	for i, elem := range path {
		switch key := elem.(type) {
		case string:
			m, ok := container.(map[string]any)
			if !ok {
				return
			}
			if i == last {
				m[key] = value
				return
			}
			container = m[key]
		case int:
			list, ok := container.([]any)
			if !ok || key < 0 || key >= len(list) {
				return
			}
			if i == last {
				list[key] = value
				return
			}
			container = list[key]
		}
	}
}

func (s *executionState) completeValue(t *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if t.IsNonNull() {
		if isNullish(result) {
			if !s.hasErrorAt(path) {
				s.addError("Cannot return null for non-nullable field "+path.String(), path)
			}
			return nil
		}
		completed := s.completeValue(t.Unwrap(), fields, result, path)
		if isNullish(completed) {
			return nil
		}
		return completed
	}
	if isNullish(result) {
		return nil
	}
	if t.IsList() {
		return s.completeList(t, fields, result, path)
	}

	name := t.GetNamedType()
	named := s.schema.Types[name]
	if named == nil {
		s.addError("Unknown type: "+name, path)
		return nil
	}
	switch named.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		out, err := s.runtime.SerializeLeafValue(s.ctx, name, result)
		if err != nil {
			s.addError(err.Error(), path)
			return nil
		}
		return out
	case schema.TypeKindObject:
		return s.executeSelectionSet(named, subSelection(fields), result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstract(name, fields, result, path)
	}
	s.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", named.Kind), path)
	return nil
}

// completeList completes every item of result, which may be any slice. A
// null item of a non-null item type nulls the whole list.
func (s *executionState) completeList(t *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	items, ok := result.([]any)
	if !ok {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			s.addError(fmt.Sprintf("Expected list value, got %T", result), path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	itemType := t.Unwrap()
	out := make([]any, len(items))
	for i, item := range items {
		v := s.completeValue(itemType, fields, item, appendPath(path, i))
		if isNullish(v) {
			if itemType.IsNonNull() {
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}

func (s *executionState) completeAbstract(abstract string, fields []*language.Field, result any, path Path) any {
	typeName, err := s.runtime.ResolveType(s.ctx, abstract, result)
	if err != nil {
		s.addError(err.Error(), path)
		return nil
	}
	object := s.schema.Types[typeName]
	if object == nil || object.Kind != schema.TypeKindObject {
		s.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstract, typeName), path)
		return nil
	}
	return s.executeSelectionSet(object, subSelection(fields), result, path)
}

// subSelection merges the selections of fields sharing a response name.
func subSelection(fields []*language.Field) language.SelectionSet {
	var out language.SelectionSet
	for _, f := range fields {
		out = append(out, f.SelectionSet...)
	}
	return out
}

// typeRefFromAST converts a variable type from the document.
func typeRefFromAST(t *language.Type) *schema.TypeRef {
	switch {
	case t == nil:
		return nil
	case t.NonNull:
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	case t.NamedType != "":
		return schema.NamedType(t.NamedType)
	case t.Elem != nil:
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return nil
}

// isNullish reports nil and typed nil values.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
