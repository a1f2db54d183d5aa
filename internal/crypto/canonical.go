package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize normalizes v into the JSON value model: map[string]any, []any,
// string, bool, nil and json.Number in canonical form.
func Canonicalize(v any) (any, error) {
	return normalize(v, false)
}

// CanonicalBytes encodes v as minified JSON with object keys in byte-wise order.
//
// Integer literals are written as exact decimals. Other numbers follow the
// ECMAScript Number.prototype.toString form, so 1.0 becomes 1 and 1e21 becomes 1e+21.
func CanonicalBytes(v any) ([]byte, error) {
	tree, err := normalize(v, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeValue(&buf, tree)
	return buf.Bytes(), nil
}

// CanonicalBytesNFC is CanonicalBytes with every string and key normalized to NFC.
func CanonicalBytesNFC(v any) ([]byte, error) {
	tree, err := normalize(v, true)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeValue(&buf, tree)
	return buf.Bytes(), nil
}

type mapEntry struct {
	key   string
	value any
}

func normalize(v any, nfc bool) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch value := v.(type) {
	case json.Number:
		return normalizeNumber(value)
	case json.RawMessage:
		decoded, err := DecodeJSON(value)
		if err != nil {
			return nil, err
		}
		return normalize(decoded, nfc)
	case []byte:
		if value == nil {
			return nil, nil
		}
		return base64.StdEncoding.EncodeToString(value), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return normalizeString(rv.String(), nfc)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		s, err := formatFloat(rv.Float())
		if err != nil {
			return nil, err
		}
		return json.Number(s), nil
	case reflect.Map:
		return normalizeMap(rv, nfc)
	case reflect.Slice, reflect.Array:
		return normalizeSlice(rv, nfc)
	case reflect.Invalid:
		return nil, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func normalizeString(s string, nfc bool) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	if nfc {
		return norm.NFC.String(s), nil
	}
	return s, nil
}

func normalizeNumber(n json.Number) (json.Number, error) {
	s := n.String()
	if s == "" {
		return "", ErrInvalidNumber
	}
	if !strings.ContainsAny(s, ".eE") {
		var i big.Int
		if _, ok := i.SetString(s, 10); !ok {
			return "", ErrInvalidNumber
		}
		return json.Number(i.String()), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return "", ErrNonFiniteNumber
		}
		return "", ErrInvalidNumber
	}
	out, err := formatFloat(f)
	if err != nil {
		return "", err
	}
	return json.Number(out), nil
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFiniteNumber
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits, nil
}

func normalizeMap(rv reflect.Value, nfc bool) (any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, ErrNonStringMapKey
	}
	if rv.IsNil() {
		return nil, nil
	}

	out := make(map[string]any, rv.Len())
	for _, key := range rv.MapKeys() {
		keyStr, err := normalizeString(key.String(), nfc)
		if err != nil {
			return nil, err
		}
		if _, ok := out[keyStr]; ok {
			return nil, ErrKeyCollision
		}
		val, err := normalize(rv.MapIndex(key).Interface(), nfc)
		if err != nil {
			return nil, err
		}
		out[keyStr] = val
	}
	return out, nil
}

func normalizeSlice(rv reflect.Value, nfc bool) (any, error) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, nil
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		val, err := normalize(rv.Index(i).Interface(), nfc)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// writeValue expects a tree produced by normalize.
func writeValue(buf *bytes.Buffer, v any) {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(value.String())
	case string:
		writeString(buf, value)
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, item)
		}
		buf.WriteByte(']')
	case map[string]any:
		entries := make([]mapEntry, 0, len(value))
		for k, item := range value {
			entries = append(entries, mapEntry{key: k, value: item})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].key < entries[j].key
		})
		buf.WriteByte('{')
		for i, entry := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, entry.key)
			buf.WriteByte(':')
			writeValue(buf, entry.value)
		}
		buf.WriteByte('}')
	}
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
