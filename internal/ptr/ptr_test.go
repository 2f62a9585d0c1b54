package ptr

import (
	"bytes"
	"testing"
)

func TestStrincIncrementsLastNonFFByte(t *testing.T) {
	got := Strinc([]byte{0x01, 0x02})
	want := []byte{0x01, 0x03}
	if !bytes.Equal(got, want) {
		t.Fatalf("Strinc = %x, want %x", got, want)
	}
}

func TestStrincDropsTrailingFFRun(t *testing.T) {
	got := Strinc([]byte{0x01, 0xFF, 0xFF})
	want := []byte{0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("Strinc = %x, want %x", got, want)
	}
}

func TestStrincAllFF(t *testing.T) {
	got := Strinc([]byte{0xFF, 0xFF})
	want := []byte{0xFF, 0xFF, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Strinc = %x, want %x", got, want)
	}
}

func TestRangeCoversPrefixAndDescendants(t *testing.T) {
	begin, end := Range([]byte("abc"))
	if !Contains(begin, []byte("abc")) {
		t.Fatal("range should contain the prefix itself")
	}
	if !Contains(begin, []byte("abcdef")) {
		t.Fatal("range should contain a descendant key")
	}
	if bytes.Compare([]byte("abcdef"), end) >= 0 {
		t.Fatal("descendant key should sort before the exclusive end")
	}
	if bytes.Compare([]byte("abd"), end) < 0 {
		t.Fatal("a sibling prefix should sort at or after the exclusive end")
	}
}

func TestContains(t *testing.T) {
	if !Contains([]byte("ab"), []byte("ab")) {
		t.Fatal("a prefix should contain itself")
	}
	if !Contains([]byte("ab"), []byte("abc")) {
		t.Fatal("a prefix should contain its descendants")
	}
	if Contains([]byte("ab"), []byte("ac")) {
		t.Fatal("a prefix should not contain an unrelated sibling")
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		a, b []byte
		want bool
	}{
		{[]byte("ab"), []byte("ab"), true},
		{[]byte("ab"), []byte("abcd"), true},
		{[]byte("abcd"), []byte("ab"), true},
		{[]byte("ab"), []byte("ac"), false},
		{[]byte("ab"), []byte("ba"), false},
	}
	for _, c := range cases {
		if got := Overlaps(c.a, c.b); got != c.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
