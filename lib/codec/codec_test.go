package codec

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() IRowCodec{
	"JSON":   NewJSONCodec,
	"GOB":    NewGOBCodec,
	"Binary": NewBinaryCodec,
}

func sampleRow() Row {
	return Row{
		Stable: 7,
		Fields: []Field{
			{Name: "title", Kind: KindString, Str: "Grüße"},
			{Name: "views", Kind: KindInt, Int: -42},
			{Name: "ratio", Kind: KindFloat, Float: math.Inf(-1)},
			{Name: "draft", Kind: KindBool, Bool: true},
			{Name: "blob", Kind: KindBytes, Bytes: []byte{0, 1, 2, 255}},
			{Name: "tags", Kind: KindStrings, Strs: []string{"a", "", "c"}},
			{Name: "cover", Kind: KindRef, Int: 1_700_000_000_000_001},
			{Name: "owner", Kind: KindRef},
			{Name: "slides", Kind: KindRefs, Refs: []int64{3, 1, 3}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			row := sampleRow()
			if name == "JSON" {
				// json can not represent infinities
				row.Fields[2].Float = 0.25
			}

			data, err := c.Encode(row)
			require.NoError(t, err)

			var decoded Row
			require.NoError(t, c.Decode(data, &decoded))

			assert.Equal(t, row.Stable, decoded.Stable)
			require.Len(t, decoded.Fields, len(row.Fields))
			for i, f := range row.Fields {
				got := decoded.Fields[i]
				assert.Equal(t, f.Name, got.Name)
				assert.Equal(t, f.Kind, got.Kind, "kind of %s", f.Name)
				assert.Equal(t, f.Str, got.Str)
				assert.Equal(t, f.Int, got.Int)
				assert.Equal(t, f.Float, got.Float)
				assert.Equal(t, f.Bool, got.Bool)
				assert.Equal(t, string(f.Bytes), string(got.Bytes))
				assert.Equal(t, len(f.Strs), len(got.Strs))
				assert.Equal(t, f.Refs, got.Refs)
			}
		})
	}
}

func TestEmptyRow(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			data, err := c.Encode(Row{Stable: 1})
			require.NoError(t, err)

			var decoded Row
			require.NoError(t, c.Decode(data, &decoded))
			assert.Equal(t, uint32(1), decoded.Stable)
			assert.Empty(t, decoded.Fields)
		})
	}
}

func TestRefs(t *testing.T) {
	refs := slices.Collect(sampleRow().Refs())
	assert.Equal(t, []int64{1_700_000_000_000_001, 3, 1, 3}, refs)

	// early stop
	var first []int64
	for id := range sampleRow().Refs() {
		first = append(first, id)
		break
	}
	assert.Equal(t, []int64{1_700_000_000_000_001}, first)
}

func TestBinaryRejectsTruncatedInput(t *testing.T) {
	c := NewBinaryCodec()
	data, err := c.Encode(sampleRow())
	require.NoError(t, err)

	for _, n := range []int{0, 3, 6, len(data) / 2, len(data) - 1} {
		var row Row
		assert.Error(t, c.Decode(data[:n], &row), "truncated at %d", n)
	}

	var row Row
	bad := append([]byte{}, data...)
	bad[0] = 99
	assert.Error(t, c.Decode(bad, &row))
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "gob", "binary"} {
		c, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	_, err := ByName("yaml")
	assert.Error(t, err)
}
