// Package canonical implements the deterministic, RFC 8785-flavored JSON
// encoding that every hashed or signed Lexecon value passes through.
//
// Any value destined for a hash or a signature must go through Marshal (or
// Hash) first. This is the single most important correctness invariant in
// the system: two logically equal values must produce byte-identical
// output regardless of map iteration order, struct field order, or which
// Go type originally held the data.
package canonical

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gowebpki/jcs"
)

// HexBytes marshals a byte slice as a lowercase hex string, per the
// canonical codec's rule that binary values are represented as lowercase
// hex rather than base64.
type HexBytes []byte

// MarshalJSON implements json.Marshaler.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%x", []byte(h)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("canonical: invalid hex bytes: %w", err)
	}
	*h = b
	return nil
}

// Marshal returns the canonical byte representation of v.
//
// Strategy: marshal through the standard library first (so struct tags,
// omitempty and custom MarshalJSON implementations are respected), then
// decode into a generic tree with UseNumber so integers are not corrupted
// by a float64 round trip, then recursively re-encode with sorted object
// keys, no insignificant whitespace, and HTML escaping disabled.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonical: encode failed: %w", err)
	}
	out := buf.Bytes()

	crossCheckJCS(intermediate, out)
	return out, nil
}

// crossCheckJCS runs the RFC 8785 reference transform from
// github.com/gowebpki/jcs over the same pre-marshal bytes and compares it
// against the hand-rolled canonical output. The two are expected to agree
// for every document whose numbers fit in a float64 without loss; they are
// allowed to diverge for large integers (Seq, Size, and similar fields),
// since jcs.Transform canonicalizes numbers via the ES6 ToNumber/ToString
// rules while this package's own Marshal deliberately preserves
// json.Number precision instead of round-tripping through float64.
// Divergence is therefore logged at debug level as a cross-check signal,
// not treated as an error.
func crossCheckJCS(intermediate, canonicalOut []byte) {
	transformed, err := jcs.Transform(intermediate)
	if err != nil {
		slog.Debug("canonical: jcs cross-check failed to transform", "error", err)
		return
	}
	if !bytes.Equal(transformed, canonicalOut) {
		slog.Debug("canonical: jcs cross-check diverged from canonical output",
			"jcs", string(transformed), "canonical", string(canonicalOut))
	}
}

// MarshalString is Marshal returning a string.
func MarshalString(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse decodes canonical JSON bytes into a generic interface{} tree
// (map[string]interface{}, []interface{}, json.Number, string, bool, nil).
// Parse(Marshal(v)) round-trips to the same canonical form when re-encoded.
func Parse(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var v interface{}
	if err := decoder.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: parse failed: %w", err)
	}
	return v, nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(t.String())
		return nil
	case string:
		return encodeString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys) // lexicographic by Unicode code point == byte order for UTF-8

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		// Fallback: let the standard encoder handle unexpected concrete types
		// (this path should not be hit once the pre-marshal/decode round trip
		// above has normalized v to the types above).
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return err
		}
		b := buf.Bytes()
		if len(b) > 0 && b[len(b)-1] == '\n' {
			buf.Truncate(len(b) - 1)
		}
		return nil
	}
}

// encodeString writes s as a JSON string literal per RFC 8259 escaping
// rules, with HTML-sensitive characters left unescaped (canonical form
// forbids the ambiguous \u-escapes json.Encoder's HTML mode would emit).
func encodeString(buf *bytes.Buffer, s string) error {
	var inner bytes.Buffer
	enc := json.NewEncoder(&inner)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b := inner.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	buf.Write(b)
	return nil
}
