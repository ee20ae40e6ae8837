package runstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteBytes_ReplacesContentWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "completed.txt")

	if err := WriteBytes(path, []byte("a\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteBytes(path, []byte("a\nb\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\nb\n" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestMoveAside_MissingPathIsNoop(t *testing.T) {
	dir := t.TempDir()
	moved, err := MoveAside(filepath.Join(dir, "absent.txt"), ".corrupt")
	if err != nil {
		t.Fatalf("move aside missing file: %v", err)
	}
	if moved != "" {
		t.Fatalf("expected empty target for missing file, got %q", moved)
	}
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_run.json")
	in := map[string]int{"completed": 2}
	if err := WriteJSON(path, in); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatal(err)
	}
	if out["completed"] != 2 {
		t.Fatalf("unexpected content %+v", out)
	}
}
