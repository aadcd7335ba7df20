//go:build property
// +build property

package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMarshal_Deterministic checks spec.md §8 quantified invariant 5's
// sibling for the codec itself: the same value canonicalizes to the same
// bytes regardless of how many times it is marshaled.
func TestMarshal_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Marshal is deterministic over arbitrary string-keyed maps", prop.ForAll(
		func(keys, values []string) bool {
			obj := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			b1, err1 := Marshal(obj)
			b2, err2 := Marshal(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalRoundTrip checks spec.md §8 quantified invariant 6:
// parse(canonical(v)) == v for arbitrary string-keyed maps of strings.
func TestCanonicalRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("parse(canonical(v)) reproduces v's string fields", prop.ForAll(
		func(keys, values []string) bool {
			obj := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			encoded, err := Marshal(obj)
			if err != nil {
				return false
			}
			decoded, err := Parse(encoded)
			if err != nil {
				return false
			}
			m, ok := decoded.(map[string]interface{})
			if !ok {
				return len(obj) == 0
			}
			if len(m) != len(obj) {
				return false
			}
			for k, v := range obj {
				if m[k] != v {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalRoundTrip_ReEncodingIsStable checks the other half of
// invariant 6: canonical(parse(s)) == s for any s the codec itself
// emitted — re-encoding an already-canonical document must be a no-op.
func TestCanonicalRoundTrip_ReEncodingIsStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical(parse(s)) == s for codec-emitted s", prop.ForAll(
		func(keys, values []string) bool {
			obj := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			s, err := MarshalString(obj)
			if err != nil {
				return false
			}
			decoded, err := Parse([]byte(s))
			if err != nil {
				return false
			}
			reencoded, err := MarshalString(decoded)
			if err != nil {
				return false
			}
			return reencoded == s
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
