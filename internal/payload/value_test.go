package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  String("z"),
		"apple":  String("a"),
		"banana": String("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestObjectSortedKeysUTF16Order(t *testing.T) {
	// U+FF61 sorts after U+1F600 in UTF-8 byte order but before it in UTF-16
	obj := Object{
		"\U0001F600": Int(1),
		"\uff61":     Int(2),
		"a":          Int(3),
	}

	assert.Equal(t, []string{"a", "\U0001F600", "\uff61"}, obj.SortedKeys())
}

func TestObjectGetters(t *testing.T) {
	obj := Object{
		"name":     String("Ravi"),
		"serverId": Int(42),
		"numeric":  String("17"),
		"flag":     Bool(true),
	}

	s, ok := obj.GetString("name")
	assert.True(t, ok)
	assert.Equal(t, "Ravi", s)

	_, ok = obj.GetString("serverId")
	assert.False(t, ok)

	n, ok := obj.GetInt("serverId")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = obj.GetInt("numeric")
	assert.True(t, ok)
	assert.Equal(t, int64(17), n)

	_, ok = obj.GetInt("name")
	assert.False(t, ok)

	_, ok = obj.GetInt("missing")
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{
		"nested": Object{"list": Array{String("a")}},
	}

	cp := orig.Clone()
	cp["nested"].(Object)["list"].(Array)[0] = String("b")

	assert.Equal(t, String("a"), orig["nested"].(Object)["list"].(Array)[0])
	assert.False(t, Equal(orig, cp))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same string", String("x"), String("x"), true},
		{"string vs int", String("1"), Int(1), false},
		{"nulls", Null{}, Null{}, true},
		{"arrays", Array{Int(1), Int(2)}, Array{Int(1), Int(2)}, true},
		{"array order", Array{Int(1), Int(2)}, Array{Int(2), Int(1)}, false},
		{"objects", Object{"a": Int(1)}, Object{"a": Int(1)}, true},
		{"object extra key", Object{"a": Int(1)}, Object{"a": Int(1), "b": Null{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestObjectUnmarshalJSON(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"clientId":"c1","personRef":7,"inside":false,"photo":null,"tags":["a",1]}`), &obj)
	require.NoError(t, err)

	assert.Equal(t, String("c1"), obj["clientId"])
	assert.Equal(t, Int(7), obj["personRef"])
	assert.Equal(t, Bool(false), obj["inside"])
	assert.Equal(t, Null{}, obj["photo"])
	assert.Equal(t, Array{String("a"), Int(1)}, obj["tags"])
}

func TestUnmarshalRejectsFractions(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"lat":12.5}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fractional")
}

func TestUnmarshalLargeIntegers(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"n":9007199254740993}`), &obj))
	assert.Equal(t, Int(9007199254740993), obj["n"])
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject([]byte(` {"a":1} `))
	require.NoError(t, err)
	assert.Equal(t, Object{"a": Int(1)}, obj)

	_, err = ParseObject([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got array")
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"s":    "x",
		"n":    float64(3),
		"b":    true,
		"nil":  nil,
		"list": []any{"a", json.Number("5")},
	})
	require.NoError(t, err)

	assert.Equal(t, Object{
		"s":    String("x"),
		"n":    Int(3),
		"b":    Bool(true),
		"nil":  Null{},
		"list": Array{String("a"), Int(5)},
	}, v)

	_, err = FromAny(map[string]any{"f": 1.5})
	require.Error(t, err)

	_, err = FromAny(struct{}{})
	require.Error(t, err)
}

func TestToAnyRoundTrip(t *testing.T) {
	in := Object{"a": Array{Int(1), Null{}, Bool(true)}, "b": String("x")}
	back, err := FromAny(ToAny(in))
	require.NoError(t, err)
	assert.True(t, Equal(in, back))
}
