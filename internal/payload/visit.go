package payload

import (
	"strconv"
	"strings"
)

// Path locates a value inside a document. Object keys are stored as-is,
// array indexes as "[n]".
type Path []string

// String renders the path in dotted form, e.g. "person.photos[0].id".
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 && !strings.HasPrefix(seg, "[") {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// Key returns the last object key on the path, skipping array indexes.
// Returns "" for the root or for paths that only traverse arrays.
func (p Path) Key() string {
	for i := len(p) - 1; i >= 0; i-- {
		if !strings.HasPrefix(p[i], "[") {
			return p[i]
		}
	}
	return ""
}

func (p Path) child(seg string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

func indexSeg(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// Walk visits v and every nested value in pre-order. Object members are
// visited in sorted key order so traversal is deterministic. Returning
// false from fn skips the children of the current value.
func Walk(v Value, fn func(path Path, v Value) bool) {
	walk(nil, v, fn)
}

func walk(path Path, v Value, fn func(Path, Value) bool) {
	if !fn(path, v) {
		return
	}
	switch val := v.(type) {
	case Array:
		for i, elem := range val {
			walk(path.child(indexSeg(i)), elem, fn)
		}
	case Object:
		for _, k := range val.SortedKeys() {
			walk(path.child(k), val[k], fn)
		}
	}
}

// Match is a single hit from Find.
type Match struct {
	Path  Path
	Value Value
}

// Find returns every value for which pred is true.
func Find(v Value, pred func(path Path, v Value) bool) []Match {
	var matches []Match
	Walk(v, func(path Path, val Value) bool {
		if pred(path, val) {
			matches = append(matches, Match{Path: path, Value: val})
		}
		return true
	})
	return matches
}

// ContainsString reports whether any string leaf (outside skipKeys)
// equals s.
func ContainsString(v Value, s string, skipKeys ...string) bool {
	return len(Find(v, func(path Path, val Value) bool {
		str, ok := val.(String)
		return ok && string(str) == s && !skipped(path, skipKeys)
	})) > 0
}

// Replace rebuilds v bottom-up, offering every value to fn. When fn
// returns (replacement, true) the replacement is used and its children
// are not visited. The input tree is never mutated; the second return
// value reports whether anything changed.
func Replace(v Value, fn func(path Path, v Value) (Value, bool)) (Value, bool) {
	return replace(nil, v, fn)
}

func replace(path Path, v Value, fn func(Path, Value) (Value, bool)) (Value, bool) {
	if repl, ok := fn(path, v); ok {
		return repl, true
	}

	switch val := v.(type) {
	case Array:
		var out Array
		for i, elem := range val {
			next, changed := replace(path.child(indexSeg(i)), elem, fn)
			if changed && out == nil {
				out = make(Array, len(val))
				copy(out, val)
			}
			if out != nil {
				out[i] = next
			}
		}
		if out == nil {
			return v, false
		}
		return out, true

	case Object:
		var out Object
		for _, k := range val.SortedKeys() {
			next, changed := replace(path.child(k), val[k], fn)
			if changed && out == nil {
				out = make(Object, len(val))
				for kk, vv := range val {
					out[kk] = vv
				}
			}
			if out != nil {
				out[k] = next
			}
		}
		if out == nil {
			return v, false
		}
		return out, true

	default:
		return v, false
	}
}

// ReplaceString swaps every string leaf equal to old for repl. Leaves
// whose nearest object key is listed in skipKeys are left alone, which
// lets callers rewrite references without touching an action's own
// identity fields.
func ReplaceString(v Value, old string, repl Value, skipKeys ...string) (Value, bool) {
	return Replace(v, func(path Path, val Value) (Value, bool) {
		s, ok := val.(String)
		if !ok || string(s) != old || skipped(path, skipKeys) {
			return nil, false
		}
		return repl, true
	})
}

// RewriteObjects offers every nested object (including the root) to fn.
// fn receives a private copy it may modify; returning true keeps the
// modified copy. Children of a rewritten object are still visited.
func RewriteObjects(v Value, fn func(path Path, obj Object) bool) (Value, bool) {
	return rewriteObjects(nil, v, fn)
}

func rewriteObjects(path Path, v Value, fn func(Path, Object) bool) (Value, bool) {
	switch val := v.(type) {
	case Array:
		changedAny := false
		out := make(Array, len(val))
		for i, elem := range val {
			next, changed := rewriteObjects(path.child(indexSeg(i)), elem, fn)
			out[i] = next
			changedAny = changedAny || changed
		}
		if !changedAny {
			return v, false
		}
		return out, true

	case Object:
		changedAny := false
		out := make(Object, len(val))
		for _, k := range val.SortedKeys() {
			next, changed := rewriteObjects(path.child(k), val[k], fn)
			out[k] = next
			changedAny = changedAny || changed
		}
		if fn(path, out) {
			changedAny = true
		}
		if !changedAny {
			return v, false
		}
		return out, true

	default:
		return v, false
	}
}

func skipped(path Path, skipKeys []string) bool {
	key := path.Key()
	for _, k := range skipKeys {
		if k == key {
			return true
		}
	}
	return false
}
