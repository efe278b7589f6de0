package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reserved characters cannot appear in keys; addresses must be resolved to
// safe ids before they are used as keys.
const reserved = ".#$[]"

// splitPath returns the root key and the remaining segments of path.
func splitPath(path string) (string, []string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, reserved) {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs[0], segs[1:], nil
}

// lookup returns the value at segs inside doc.
func lookup(doc []byte, segs []string) ([]byte, bool) {
	if doc == nil {
		return nil, false
	}
	if len(segs) == 0 {
		return doc, true
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(doc, &node); err != nil {
		return nil, false
	}
	child, ok := node[segs[0]]
	if !ok {
		return nil, false
	}
	return lookup(child, segs[1:])
}

// assign returns doc with the value at segs replaced by value. A nil value
// removes the key, and objects left empty are removed with it. A non-object
// value on the way is replaced by an object.
func assign(doc []byte, segs []string, value []byte) ([]byte, error) {
	if len(segs) == 0 {
		return value, nil
	}
	node := map[string]json.RawMessage{}
	if doc != nil {
		if err := json.Unmarshal(doc, &node); err != nil || node == nil {
			node = map[string]json.RawMessage{}
		}
	}
	child, err := assign(node[segs[0]], segs[1:], value)
	if err != nil {
		return nil, err
	}
	if child == nil {
		delete(node, segs[0])
	} else {
		node[segs[0]] = child
	}
	if len(node) == 0 {
		return nil, nil
	}
	return json.Marshal(node)
}

// encode canonicalizes a value into compact JSON; nil stays nil.
func encode(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok && raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}
