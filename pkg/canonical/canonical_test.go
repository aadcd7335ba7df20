package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsObjectKeys(t *testing.T) {
	input := map[string]interface{}{"c": 3, "a": 1, "b": 2}

	b, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestMarshal_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"y": "foo", "x": "bar"},
		"a": 1,
	}

	b, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{"html": "<script>alert('xss')</script> &"}

	b, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestMarshal_PreservesArrayOrder(t *testing.T) {
	input := []interface{}{3, 1, 2}

	b, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, `[3,1,2]`, string(b))
}

func TestMarshal_IntegersStayExact(t *testing.T) {
	// A large integer that would lose precision if decoded as float64.
	input := map[string]interface{}{"n": 9007199254740993}

	b, err := Marshal(input)
	require.NoError(t, err)
	require.Equal(t, `{"n":9007199254740993}`, string(b))
}

func TestHash_FieldReorderInvariance(t *testing.T) {
	type S struct {
		A int `json:"a"`
		B int `json:"b"`
	}

	v1 := map[string]interface{}{"a": 1, "b": 2}
	v2 := S{A: 1, B: 2}

	h1, err := Hash(v1)
	require.NoError(t, err)
	h2, err := Hash(v2)
	require.NoError(t, err)

	require.Equal(t, h1, h2, "semantically equal values must hash identically regardless of construction")
}

func TestMarshal_RoundTripsThroughParse(t *testing.T) {
	input := map[string]interface{}{"b": []interface{}{1, 2, 3}, "a": "x"}

	encoded, err := Marshal(input)
	require.NoError(t, err)

	parsed, err := Parse(encoded)
	require.NoError(t, err)

	reencoded, err := Marshal(parsed)
	require.NoError(t, err)

	require.Equal(t, encoded, reencoded, "canonical(parse(canonical(v))) must equal canonical(v)")
}

func TestZeroHash_Is64Chars(t *testing.T) {
	require.Len(t, ZeroHash, 64)
	for _, c := range ZeroHash {
		require.Equal(t, '0', c)
	}
}

func TestHexBytes_RoundTrip(t *testing.T) {
	original := HexBytes{0xde, 0xad, 0xbe, 0xef}

	b, err := original.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"deadbeef"`, string(b))

	var decoded HexBytes
	require.NoError(t, decoded.UnmarshalJSON(b))
	require.Equal(t, original, decoded)
}
