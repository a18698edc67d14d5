package cborcanon

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestCanonicalEncodingIsDeterministic(t *testing.T) {
	testCases := []struct {
		name  string
		input interface{}
	}{
		{"simple map", map[string]interface{}{"b": 2, "a": 1}},
		{"nested map", map[string]interface{}{"z": 3, "a": map[string]interface{}{"y": 2, "x": 1}}},
		{"mixed types", map[string]interface{}{"str": "hello", "num": 42, "bool": true}},
		{"array", []interface{}{3, 1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			first, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			for i := 0; i < 10; i++ {
				again, err := Marshal(tc.input)
				if err != nil {
					t.Fatalf("Marshal: %v", err)
				}
				if !bytes.Equal(first, again) {
					t.Fatalf("encoding not deterministic: %x vs %x", first, again)
				}
			}
			if !IsCanonical(first) {
				t.Fatalf("canonical encoder produced non-canonical output")
			}
		})
	}
}

func TestKnownEncodings(t *testing.T) {
	testCases := []struct {
		name  string
		input interface{}
		hex   string
	}{
		{"array preserves order", []interface{}{3, 1, 2}, "83030102"},
		{"empty map", map[string]interface{}{}, "a0"},
		{"empty array", []interface{}{}, "80"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if hex.EncodeToString(got) != tc.hex {
				t.Fatalf("got %x, want %s", got, tc.hex)
			}
		})
	}
}

func TestCanonicalBytesNormalises(t *testing.T) {
	// {"b":2,"a":1} with keys out of canonical order.
	raw := []byte{0xa2, 0x61, 'b', 0x02, 0x61, 'a', 0x01}
	if IsCanonical(raw) {
		t.Fatalf("out-of-order map keys should not be canonical")
	}
	fixed, err := CanonicalBytes(raw)
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	if !IsCanonical(fixed) {
		t.Fatalf("normalised output still not canonical")
	}
}

func TestRoundTrip(t *testing.T) {
	input := []interface{}{"hash", uint64(6), []byte{1, 2, 3}}
	data, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out []interface{}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out) != 3 || out[0] != "hash" {
		t.Fatalf("round trip mangled: %v", out)
	}
}
