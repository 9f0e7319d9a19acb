package config

import "strings"

// Fragment is a raw configuration tree from one source (defaults, a config
// file, or environment overrides). Fragments have no identity of their own;
// they exist only to be merged into a resolved configuration.
type Fragment map[string]interface{}

// merge deep-merges override into base. Nested maps merge recursively so an
// override that sets only redis.db leaves redis.url from the lower-precedence
// source intact. Scalars and non-map values overwrite wholesale.
func merge(base, override Fragment) {
	for key, value := range override {
		if childOverride, ok := value.(map[string]interface{}); ok {
			if childBase, ok := base[key].(map[string]interface{}); ok {
				merge(childBase, childOverride)
				continue
			}
		}
		base[key] = value
	}
}

// setPath writes value at a dotted path like "redis.db", creating
// intermediate maps as needed.
func setPath(f Fragment, path string, value interface{}) {
	keys := strings.Split(path, ".")
	current := map[string]interface{}(f)
	for _, key := range keys[:len(keys)-1] {
		child, ok := current[key].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			current[key] = child
		}
		current = child
	}
	current[keys[len(keys)-1]] = value
}

// getPath reads the value at a dotted path. The second return reports whether
// every segment of the path exists.
func getPath(f Fragment, path string) (interface{}, bool) {
	keys := strings.Split(path, ".")
	current := map[string]interface{}(f)
	for _, key := range keys[:len(keys)-1] {
		child, ok := current[key].(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = child
	}
	value, ok := current[keys[len(keys)-1]]
	return value, ok
}

// deepCopy clones a fragment so callers can mutate the copy without
// disturbing the source. Only maps are cloned; scalar values are shared.
func deepCopy(f Fragment) Fragment {
	out := make(Fragment, len(f))
	for key, value := range f {
		if child, ok := value.(map[string]interface{}); ok {
			out[key] = map[string]interface{}(deepCopy(child))
			continue
		}
		out[key] = value
	}
	return out
}
