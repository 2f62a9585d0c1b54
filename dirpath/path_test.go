package dirpath

import "testing"

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"/",
		"/a/b/c",
		`/a\/b/c`,
		`/a\\b`,
		"a/b",
	}
	for _, s := range cases {
		p, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := p.Format(); got != s {
			t.Fatalf("Parse(%q).Format() = %q, want %q", s, got, s)
		}
	}
}

func TestParseRejectsEmptyTokens(t *testing.T) {
	cases := []string{"/a//b", "/a/", "a//"}
	for _, s := range cases {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q): expected error, got nil", s)
		}
	}
}

func TestRootHasZeroSegments(t *testing.T) {
	p, err := Parse("/")
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsRoot() {
		t.Fatalf("expected root, got %v segments", p.Len())
	}
	if p.Len() != 0 {
		t.Fatalf("expected 0 segments, got %d", p.Len())
	}
}

func TestParentAndAdd(t *testing.T) {
	p, _ := Parse("/a/b/c")
	parent, ok := p.Parent()
	if !ok {
		t.Fatal("expected parent")
	}
	if parent.Format() != "/a/b" {
		t.Fatalf("got %q", parent.Format())
	}
	child := parent.Add("c", "d")
	if child.Format() != "/a/b/c/d" {
		t.Fatalf("got %q", child.Format())
	}

	root := Root()
	if _, ok := root.Parent(); ok {
		t.Fatal("root has no parent")
	}
}

func TestStartsWithAndIsChildOf(t *testing.T) {
	a, _ := Parse("/a")
	ab, _ := Parse("/a/b")
	abc, _ := Parse("/a/b/c")
	other, _ := Parse("/x")

	if !ab.StartsWith(a) {
		t.Fatal("expected /a/b to start with /a")
	}
	if !abc.IsChildOf(a) {
		t.Fatal("expected /a/b/c to be a (nested) child of /a")
	}
	if a.IsChildOf(a) {
		t.Fatal("a path is not its own child")
	}
	if other.StartsWith(a) {
		t.Fatal("/x should not start with /a")
	}
}

func TestWithLayerTagsLastSegmentOnly(t *testing.T) {
	p, _ := Parse("/a/b")
	tagged := p.WithLayer("partition")
	if tagged.Layer() != "partition" {
		t.Fatalf("got layer %q", tagged.Layer())
	}
	segs := tagged.Segments()
	if segs[0].LayerID != "" {
		t.Fatalf("expected first segment untouched, got %q", segs[0].LayerID)
	}

	root := Root()
	if got := root.WithLayer("x"); got.Layer() != "" {
		t.Fatalf("WithLayer on root should be a no-op, got layer %q", got.Layer())
	}
}

func TestEqualIgnoresLayerID(t *testing.T) {
	p1, _ := Parse("/a/b")
	p2 := p1.WithLayer("somelayer")
	if !p1.Equal(p2) {
		t.Fatal("expected paths with differing layer-id but same names to be Equal")
	}
}

func TestAbsoluteRelativeMismatchNeverStartsWith(t *testing.T) {
	abs, _ := Parse("/a")
	rel, _ := Parse("a")
	if abs.StartsWith(rel) || rel.StartsWith(abs) {
		t.Fatal("absolute and relative paths must never satisfy StartsWith")
	}
}
