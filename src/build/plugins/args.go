package plugins

import (
	"fmt"

	"github.com/sofmeright/dockrun/src/pipeline"
)

// stringArg reads an optional string argument.
func stringArg(args *pipeline.Map, key string) (string, error) {
	v, ok := args.Get(key)
	if !ok || v.IsNull() {
		return "", nil
	}
	s, ok := v.Str()
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %s", key, v.Kind())
	}
	return s, nil
}

// stringsArg reads an optional sequence of scalars. A lone string is
// treated as a one-element list.
func stringsArg(args *pipeline.Map, key string) ([]string, error) {
	v, ok := args.Get(key)
	if !ok || v.IsNull() {
		return nil, nil
	}
	switch v.Kind() {
	case pipeline.KindString:
		s, _ := v.Str()
		return []string{s}, nil
	case pipeline.KindSeq:
		items := v.Items()
		out := make([]string, 0, len(items))
		for i, item := range items {
			if item.Kind() == pipeline.KindSeq || item.Kind() == pipeline.KindMap {
				return nil, fmt.Errorf("argument %q[%d]: expected scalar, got %s", key, i, item.Kind())
			}
			out = append(out, item.Text())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q: expected list, got %s", key, v.Kind())
	}
}

// stringMapArg reads an optional mapping of scalars.
func stringMapArg(args *pipeline.Map, key string) (map[string]string, error) {
	v, ok := args.Get(key)
	if !ok || v.IsNull() {
		return nil, nil
	}
	if v.Kind() != pipeline.KindMap {
		return nil, fmt.Errorf("argument %q: expected mapping, got %s", key, v.Kind())
	}
	out := make(map[string]string, v.Map().Len())
	var err error
	v.Map().Range(func(k string, item pipeline.Value) bool {
		if item.Kind() == pipeline.KindSeq || item.Kind() == pipeline.KindMap {
			err = fmt.Errorf("argument %q.%s: expected scalar, got %s", key, k, item.Kind())
			return false
		}
		out[k] = item.Text()
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
