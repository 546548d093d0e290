package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Object {
	return Object{
		"clientId":  String("c1"),
		"personRef": String("p-local"),
		"visits": Array{
			Object{"photoLocalId": String("local-photo:3"), "ref": String("p-local")},
			Object{"note": String("ok")},
		},
	}
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "", Path(nil).String())
	assert.Equal(t, "visits[0].ref", Path{"visits", "[0]", "ref"}.String())
	assert.Equal(t, "[1]", Path{"[1]"}.String())
}

func TestPathKey(t *testing.T) {
	assert.Equal(t, "", Path(nil).Key())
	assert.Equal(t, "visits", Path{"visits", "[0]"}.Key())
	assert.Equal(t, "ref", Path{"visits", "[0]", "ref"}.Key())
}

func TestWalkVisitsInSortedOrder(t *testing.T) {
	var paths []string
	Walk(sampleDoc(), func(path Path, v Value) bool {
		paths = append(paths, path.String())
		return true
	})

	assert.Equal(t, []string{
		"",
		"clientId",
		"personRef",
		"visits",
		"visits[0]",
		"visits[0].photoLocalId",
		"visits[0].ref",
		"visits[1]",
		"visits[1].note",
	}, paths)
}

func TestWalkSkipChildren(t *testing.T) {
	var paths []string
	Walk(sampleDoc(), func(path Path, v Value) bool {
		paths = append(paths, path.String())
		return path.Key() != "visits"
	})

	assert.NotContains(t, paths, "visits[0]")
	assert.Contains(t, paths, "visits")
}

func TestFind(t *testing.T) {
	matches := Find(sampleDoc(), func(path Path, v Value) bool {
		return Equal(v, String("p-local"))
	})

	require.Len(t, matches, 2)
	assert.Equal(t, "personRef", matches[0].Path.String())
	assert.Equal(t, "visits[0].ref", matches[1].Path.String())
}

func TestContainsString(t *testing.T) {
	doc := sampleDoc()
	assert.True(t, ContainsString(doc, "p-local"))
	assert.True(t, ContainsString(doc, "c1"))
	assert.False(t, ContainsString(doc, "c1", "clientId"))
	assert.False(t, ContainsString(doc, "nope"))
}

func TestReplaceStringRewritesAllOccurrences(t *testing.T) {
	doc := sampleDoc()

	out, changed := ReplaceString(doc, "p-local", Int(42))
	require.True(t, changed)

	obj := out.(Object)
	assert.Equal(t, Int(42), obj["personRef"])
	assert.Equal(t, Int(42), obj["visits"].(Array)[0].(Object)["ref"])

	// input untouched
	assert.Equal(t, String("p-local"), doc["personRef"])
}

func TestReplaceStringSkipsKeys(t *testing.T) {
	doc := Object{
		"clientId":  String("c1"),
		"personRef": String("c1"),
	}

	out, changed := ReplaceString(doc, "c1", Int(9), "clientId")
	require.True(t, changed)
	assert.Equal(t, Object{"clientId": String("c1"), "personRef": Int(9)}, out)
}

func TestReplaceNoMatchReturnsSameTree(t *testing.T) {
	doc := sampleDoc()
	out, changed := ReplaceString(doc, "absent", Int(1))
	assert.False(t, changed)
	assert.True(t, Equal(doc, out))
}

func TestReplaceStopsDescentOnReplacement(t *testing.T) {
	doc := Object{"inner": Object{"x": String("a")}}
	calls := 0
	out, changed := Replace(doc, func(path Path, v Value) (Value, bool) {
		calls++
		if path.Key() == "inner" {
			return Null{}, true
		}
		return nil, false
	})

	require.True(t, changed)
	assert.Equal(t, Object{"inner": Null{}}, out)
	assert.Equal(t, 2, calls)
}

func TestRewriteObjects(t *testing.T) {
	doc := sampleDoc()

	out, changed := RewriteObjects(doc, func(path Path, obj Object) bool {
		ref, ok := obj.GetString("photoLocalId")
		if !ok || ref != "local-photo:3" {
			return false
		}
		delete(obj, "photoLocalId")
		obj["photoPath"] = String("/photos/ab/cd/abcd.jpg")
		return true
	})

	require.True(t, changed)
	visit := out.(Object)["visits"].(Array)[0].(Object)
	assert.Equal(t, String("/photos/ab/cd/abcd.jpg"), visit["photoPath"])
	_, stillThere := visit["photoLocalId"]
	assert.False(t, stillThere)

	_, origHasLocal := doc["visits"].(Array)[0].(Object)["photoLocalId"]
	assert.True(t, origHasLocal)
}

func TestRewriteObjectsNoChange(t *testing.T) {
	doc := sampleDoc()
	_, changed := RewriteObjects(doc, func(Path, Object) bool { return false })
	assert.False(t, changed)
}
