package frame

import (
	"bytes"
	"testing"
)

func TestEncodeConfigure(t *testing.T) {
	cases := []struct {
		kind BoltKind
		want []byte
	}{
		{BoltM4, []byte{0x01, 0x04}},
		{BoltM5, []byte{0x01, 0x05}},
		{BoltM6, []byte{0x01, 0x06}},
	}
	for _, c := range cases {
		got, err := EncodeConfigure(c.kind)
		if err != nil {
			t.Fatalf("%s: %v", c.kind, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Fatalf("%s: got % X, want % X", c.kind, got, c.want)
		}
	}

	if _, err := EncodeConfigure(BoltKind(0x99)); err == nil {
		t.Fatal("expected error for unknown bolt kind")
	}
}

func TestEncodeStart(t *testing.T) {
	if got := EncodeStart(); !bytes.Equal(got, []byte{0x02}) {
		t.Fatalf("got % X, want 02", got)
	}
}

func TestParseBoltKind(t *testing.T) {
	for _, c := range []struct {
		in   string
		want BoltKind
	}{
		{"M4", BoltM4}, {"m5", BoltM5}, {" M6 ", BoltM6},
	} {
		got, err := ParseBoltKind(c.in)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %s, want %s", c.in, got, c.want)
		}
	}
	if _, err := ParseBoltKind("M8"); err == nil {
		t.Fatal("expected error for M8")
	}
}

func TestEncodeFreeform(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{"01 04", []byte{0x01, 0x04}},
		{"0104", []byte{0x01, 0x04}},
		{"hello", []byte("hello")},
		{"A", []byte{0x0A}},     // odd hex gets a leading zero
		{"abc", []byte{0x0A, 0xBC}}, // ambiguous input is treated as hex
		{"0x01", []byte("0x01")},    // 'x' makes it literal text
		{"", []byte{}},
		{"DE AD BE EF", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
	}
	for _, c := range cases {
		if got := EncodeFreeform(c.in); !bytes.Equal(got, c.want) {
			t.Fatalf("%q: got % X, want % X", c.in, got, c.want)
		}
	}
}
