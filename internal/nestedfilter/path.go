package nestedfilter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	executor "github.com/hanpama/nestgraph/internal/executor"
)

// ParseTypeAttributePath splits "Post.author.id" into the type "Post" and the
// attribute segments ["author", "id"]. A bare type name has no segments.
func ParseTypeAttributePath(path string) (Type, []string, error) {
	if path == "" {
		return "", nil, fmt.Errorf("empty type attribute path")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return "", nil, fmt.Errorf("malformed type attribute path %q", path)
		}
	}
	return Type(parts[0]), parts[1:], nil
}

// LookupPath walks attrs through maps, structs and slices. ok is false when
// a step is missing; a present nil value is found.
func LookupPath(v any, attrs []string) (out any, ok bool) {
	cur := v
	for _, attr := range attrs {
		if cur == nil {
			return nil, false
		}
		if i, err := strconv.Atoi(attr); err == nil {
			rv := reflect.ValueOf(cur)
			if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
				if i < 0 || i >= rv.Len() {
					return nil, false
				}
				cur = rv.Index(i).Interface()
				continue
			}
		}
		if cur, ok = executor.LookupProperty(cur, attr); !ok {
			return nil, false
		}
	}
	return cur, true
}
