package memproc

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestEmbeddedID(t *testing.T) {
	var cases = []struct {
		name string
		want string
	}{
		{"20210403_182455_abc123", "abc123"},
		{"20210403_182455_abc_with_underscores", "abc_with_underscores"},
		{"single", "single"},
		{"one_two", "two"},
	}
	for _, c := range cases {
		if got := embeddedID(c.name); got != c.want {
			t.Fatalf("embeddedID(%q): got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestFindDuplicates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20210403_182455_abc123")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	// b sorts before the id-prefixed file, so survivor selection must
	// override listing order.
	writeTestFile(t, filepath.Join(dir, "abc123-main.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "b-copy.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "c-other.jpg"), "different bytes")

	groups, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if filepath.Base(g.Keep) != "abc123-main.jpg" {
		t.Fatalf("keep: got %s, want abc123-main.jpg", filepath.Base(g.Keep))
	}
	if len(g.Delete) != 1 || filepath.Base(g.Delete[0]) != "b-copy.jpg" {
		t.Fatalf("delete: got %v, want [b-copy.jpg]", g.Delete)
	}
}

func TestFindDuplicatesNoIDMatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20210403_182455_zzz999")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(dir, "a.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "b.jpg"), "same bytes")

	groups, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Keep == "" || len(g.Delete) != 1 {
		t.Fatalf("got keep=%q delete=%v, want one survivor and one victim", g.Keep, g.Delete)
	}
}

func TestFindDuplicatesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "only.jpg"), "bytes")
	groups, err := FindDuplicates(dir)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if groups != nil {
		t.Fatalf("got %v, want no groups", groups)
	}
}

func TestPrunerRun(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "20210403_182455_abc123")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(dir, "abc123-main.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "b-copy.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "c-other.jpg"), "different bytes")
	// loose file at the top level stays untouched
	writeTestFile(t, filepath.Join(root, "flat.jpg"), "same bytes")

	pruner := &Pruner{Dir: root}
	stats, err := pruner.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Folders != 1 || stats.Groups != 1 || stats.Deleted != 1 {
		t.Fatalf("got stats %+v, want 1 folder, 1 group, 1 deleted", stats)
	}
	for _, name := range []string{"abc123-main.jpg", "c-other.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("survivor %s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "b-copy.jpg")); !os.IsNotExist(err) {
		t.Fatalf("b-copy.jpg should have been deleted, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "flat.jpg")); err != nil {
		t.Fatalf("top level file should be untouched: %v", err)
	}
}

func TestPrunerDryRun(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bundle_dir_xyz")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(dir, "a.jpg"), "same bytes")
	writeTestFile(t, filepath.Join(dir, "b.jpg"), "same bytes")

	pruner := &Pruner{Dir: root, DryRun: true}
	stats, err := pruner.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Deleted != 0 {
		t.Fatalf("dry run deleted %d files", stats.Deleted)
	}
	for _, name := range []string{"a.jpg", "b.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s missing after dry run: %v", name, err)
		}
	}
}
