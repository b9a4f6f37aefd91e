package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"unicode"
)

// Comparator decides whether two tool-call argument strings describe the
// same request, which marks the later call as a retry of the earlier one.
type Comparator func(a, b string) bool

// LooseComparator treats arguments as similar when both decode to JSON
// objects with the same keys and each pair of values is equal either directly
// or once both are rendered as strings, so {"limit":"10"} matches {"limit":10}.
// Arguments that do not decode are compared with all whitespace removed.
func LooseComparator(a, b string) bool {
	va, errA := decodeJSON(a)
	vb, errB := decodeJSON(b)
	if errA != nil || errB != nil {
		return stripSpace(a) == stripSpace(b)
	}

	oa, okA := va.(map[string]any)
	ob, okB := vb.(map[string]any)
	if !okA || !okB {
		return reflect.DeepEqual(va, vb) || coerce(va) == coerce(vb)
	}
	if len(oa) != len(ob) {
		return false
	}
	for k, x := range oa {
		y, ok := ob[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(x, y) && coerce(x) != coerce(y) {
			return false
		}
	}
	return true
}

// StrictComparator requires decoded arguments to be deeply equal, type included.
func StrictComparator(a, b string) bool {
	va, errA := decodeJSON(a)
	vb, errB := decodeJSON(b)
	if errA != nil || errB != nil {
		return stripSpace(a) == stripSpace(b)
	}
	return reflect.DeepEqual(va, vb)
}

var errTrailingData = errors.New("unexpected data after JSON value")

// decodeJSON decodes a single JSON value, keeping numbers as json.Number so
// large integers survive re-encoding.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}

func coerce(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return "null"
	default:
		return compactJSON(x)
	}
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
