package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func installFakeYTDLP(t *testing.T, script string) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "yt-dlp"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func TestListItems_ReturnsListingOrderAndTruncates(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
cat <<'JSON'
{"id":"UC1","title":"Channel","entries":[
 {"id":"A","title":"Video A","url":"A"},
 {"id":"B","title":"Video B","url":"B"},
 {"id":"C","title":"Video C","url":"C"},
 {"id":"D","title":"Video D","url":"D"},
 {"id":"E","title":"Video E","url":"E"}
]}
JSON
`)

	items, err := Source{}.ListItems(context.Background(), "https://www.youtube.com/@chan", 2)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "A" || items[1].ID != "B" {
		t.Fatalf("expected prefix [A B], got %+v", items)
	}
	if items[1].Index != 2 || items[1].Title != "Video B" {
		t.Fatalf("unexpected item metadata: %+v", items[1])
	}

	again, err := Source{}.ListItems(context.Background(), "https://www.youtube.com/@chan", 2)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].ID != items[0].ID || again[1].ID != items[1].ID {
		t.Fatalf("truncated prefix is not stable: %+v vs %+v", items, again)
	}
}

func TestListItems_FailureIsSourceUnavailable(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
echo "ERROR: [youtube:tab] @missing: This channel does not exist." >&2
exit 1
`)

	_, err := Source{}.ListItems(context.Background(), "https://www.youtube.com/@missing", 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestListItems_EmptyChannelIsSourceUnavailable(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
echo '{"id":"UC1","title":"Channel","entries":[]}'
`)

	_, err := Source{}.ListItems(context.Background(), "https://www.youtube.com/@empty", 0)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestListItems_MissingBinary(t *testing.T) {
	_, err := Source{Binary: "definitely-not-yt-dlp"}.ListItems(context.Background(), "https://www.youtube.com/@chan", 0)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestParseFlatPlaylist_FlattensChannelTabs(t *testing.T) {
	raw := []byte(`{"id":"UC1","entries":[
 {"_type":"playlist","id":"UC1-videos","entries":[{"id":"v1","title":"one"},{"id":"v2"}]},
 {"_type":"playlist","id":"UC1-shorts","entries":[{"id":"s1"},{"id":"v1"}]},
 {"id":"","title":"no id"}
]}`)

	items, err := parseFlatPlaylist(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := make([]string, 0, len(items))
	for _, it := range items {
		got = append(got, it.ID)
	}
	want := []string{"v1", "v2", "s1"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if items[2].Index != 3 {
		t.Fatalf("expected index 3 for s1, got %d", items[2].Index)
	}
}

func TestAppendJSRuntimeArgs(t *testing.T) {
	args, err := appendJSRuntimeArgs([]string{"-J"}, "node")
	if err != nil {
		t.Fatal(err)
	}
	if len(args) != 4 || args[3] != "node" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := appendJSRuntimeArgs(nil, "perl"); err == nil {
		t.Fatalf("expected invalid runtime error")
	}
}
