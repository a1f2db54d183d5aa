package crypto

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestCanonicalBytesGoldenVector(t *testing.T) {
	decoded, err := DecodeJSON([]byte(`{"z":2,"a":1,"arr":[{"b":2,"a":1},3]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, err := CanonicalBytes(decoded)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := `{"a":1,"arr":[{"a":1,"b":2},3],"z":2}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalBytesKeepsNulls(t *testing.T) {
	input := map[string]any{
		"b": "value",
		"a": 1,
		"c": nil,
		"d": map[string]any{"z": nil, "y": true},
	}

	got, err := CanonicalBytes(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := `{"a":1,"b":"value","c":null,"d":{"y":true,"z":null}}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalizeIdempotentAndOrderInsensitive(t *testing.T) {
	a, err := DecodeJSON([]byte(`{"x":[1,2.50,{"k":"v","j":null}],"y":{"b":true,"a":1e3}}`))
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	b, err := DecodeJSON([]byte(`{"y":{"a":1000,"b":true},"x":[1,2.5,{"j":null,"k":"v"}]}`))
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}

	once, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	onceBytes, _ := CanonicalBytes(once)
	twiceBytes, err := CanonicalBytes(a)
	if err != nil {
		t.Fatalf("canonicalize bytes: %v", err)
	}
	if string(onceBytes) != string(twiceBytes) {
		t.Fatalf("canonicalization not idempotent: %s vs %s", onceBytes, twiceBytes)
	}

	otherBytes, err := CanonicalBytes(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(otherBytes) != string(twiceBytes) {
		t.Fatalf("key order changed output: %s vs %s", otherBytes, twiceBytes)
	}
}

func TestCanonicalNumberFormatting(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{1.0, "1"},
		{1.5, "1.5"},
		{-0.0, "0"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
		{0.000001, "0.000001"},
		{123456789.125, "123456789.125"},
		{int64(-42), "-42"},
		{uint8(7), "7"},
		{json.Number("1.50"), "1.5"},
		{json.Number("1E3"), "1000"},
		{json.Number("-0"), "0"},
		{json.Number("12345678901234567890123"), "12345678901234567890123"},
	}
	for _, tc := range cases {
		got, err := CanonicalBytes(tc.in)
		if err != nil {
			t.Fatalf("canonicalize %v: %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("canonicalize %v: got %s want %s", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalRejectsNonFinite(t *testing.T) {
	for _, v := range []any{math.NaN(), math.Inf(1), json.Number("1e400")} {
		if _, err := CanonicalBytes(v); !errors.Is(err, ErrNonFiniteNumber) {
			t.Fatalf("expected ErrNonFiniteNumber for %v, got %v", v, err)
		}
	}
	if _, err := CanonicalBytes(json.Number("abc")); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber, got %v", err)
	}
}

func TestCanonicalStringEscaping(t *testing.T) {
	got, err := CanonicalBytes("a\"b\\c\n\u0001<\u00e9>")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := "\"a\\\"b\\\\c\\n\\u0001<\u00e9>\""
	if string(got) != want {
		t.Fatalf("unexpected string encoding: %s want %s", got, want)
	}

	if _, err := CanonicalBytes(string([]byte{0xff})); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestCanonicalBytesLeavesStringsUnnormalized(t *testing.T) {
	got, err := CanonicalBytes(map[string]any{"text": "e\u0301"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != "{\"text\":\"e\u0301\"}" {
		t.Fatalf("unexpected canonical json: %s", got)
	}
}

func TestCanonicalBytesNFCNormalizes(t *testing.T) {
	got, err := CanonicalBytesNFC(map[string]any{"text": "e\u0301"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := "{\"text\":\"\u00e9\"}"
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalBytesNFCMapKeyCollision(t *testing.T) {
	input := map[string]any{
		"e\u0301": 1,
		"\u00e9":  2,
	}

	if _, err := CanonicalBytesNFC(input); err != ErrKeyCollision {
		t.Fatalf("expected ErrKeyCollision, got %v", err)
	}
	if _, err := CanonicalBytes(input); err != nil {
		t.Fatalf("plain profile should keep distinct keys: %v", err)
	}
}

func TestCanonicalizeNonStringMapKey(t *testing.T) {
	input := map[int]any{1: "a"}
	if _, err := CanonicalBytes(input); err != ErrNonStringMapKey {
		t.Fatalf("expected ErrNonStringMapKey, got %v", err)
	}
}

func TestCanonicalizeUnsupportedType(t *testing.T) {
	type payload struct{ A int }

	if _, err := CanonicalBytes(payload{A: 1}); err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestCanonicalizeSlicesAndRaw(t *testing.T) {
	got, err := CanonicalBytes([]any{1, nil, "a", []string{"x"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `[1,null,"a",["x"]]` {
		t.Fatalf("unexpected canonical json: %s", got)
	}

	var nilSlice []any
	got, err = CanonicalBytes(nilSlice)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("unexpected canonical json: %s", got)
	}

	got, err = CanonicalBytes(map[string]any{"raw": json.RawMessage(`{"b":1,"a":[true]}`)})
	if err != nil {
		t.Fatalf("canonicalize raw: %v", err)
	}
	if string(got) != `{"raw":{"a":[true],"b":1}}` {
		t.Fatalf("unexpected canonical json: %s", got)
	}
}
