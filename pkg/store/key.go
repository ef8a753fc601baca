package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// CanonicalKey builds "namespace:<canonical json>" for v. Object keys are
// sorted and null or empty-string members dropped, so logically equal
// filter objects always collide. Values that cannot be encoded fall back to
// the bare namespace.
func CanonicalKey(namespace string, v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return namespace
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return namespace
	}
	var buf bytes.Buffer
	writeCanonical(&buf, tree)
	return namespace + ":" + buf.String()
}

// ResourceKey is the key of a single resource, e.g. "event-request:v2:abc".
func ResourceKey(parts ...string) string {
	return strings.Join(parts, ":")
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k, vv := range t {
			if vv == nil {
				continue
			}
			if s, ok := vv.(string); ok && s == "" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			ks, _ := json.Marshal(k)
			buf.Write(ks)
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, vv := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, vv)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	default:
		b, _ := json.Marshal(t)
		buf.Write(b)
	}
}
