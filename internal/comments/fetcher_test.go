package comments

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"yt-comment-collector/internal/model"
)

const fakeDownloaderHeader = `#!/usr/bin/env bash
set -euo pipefail
out=""
id=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    --youtubeid=*) id="${1#--youtubeid=}"; shift ;;
    --youtubeid)
      case "$2" in
        -*) echo "usage: youtube-comment-downloader [--youtubeid YOUTUBEID] [--output OUTPUT]" >&2; exit 2 ;;
      esac
      id="$2"; shift 2 ;;
    *) echo "$1" >> "${FAKE_ARGS_LOG:-/dev/null}"; shift ;;
  esac
done
`

func installFakeDownloader(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	fakeBin := filepath.Join(dir, "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	script := fakeDownloaderHeader + body
	if err := os.WriteFile(filepath.Join(fakeBin, DefaultBinary), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
	argsLog := filepath.Join(dir, "args.log")
	t.Setenv("FAKE_ARGS_LOG", argsLog)
	return argsLog
}

func TestDownloader_ReadsCommentsInSourceOrder(t *testing.T) {
	installFakeDownloader(t, `
echo "Downloading Youtube comments for video: $id"
printf '{"cid":"c1","text":"first"}\n{"cid":"c2","text":"second"}\n\n' > "$out"
echo "Downloaded 2 comment(s)"
`)

	var progress []int
	d := Downloader{
		OnProgress: func(_ model.WorkItem, n int) { progress = append(progress, n) },
	}
	rs, err := d.Fetch(context.Background(), model.WorkItem{ID: "vid1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(rs))
	}
	if !strings.Contains(string(rs[0]), `"c1"`) || !strings.Contains(string(rs[1]), `"c2"`) {
		t.Fatalf("unexpected order: %s / %s", rs[0], rs[1])
	}
	if len(progress) != 1 || progress[0] != 2 {
		t.Fatalf("expected progress [2], got %v", progress)
	}
}

func TestDownloader_EmptyCommentSectionIsSuccess(t *testing.T) {
	installFakeDownloader(t, `
: > "$out"
`)
	rs, err := Downloader{}.Fetch(context.Background(), model.WorkItem{ID: "quiet"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rs) != 0 {
		t.Fatalf("expected empty result set, got %d", len(rs))
	}
}

func TestDownloader_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		permanent bool
	}{
		{
			name:      "rate limited",
			body:      "echo 'HTTP Error 429: Too Many Requests' >&2; exit 1",
			permanent: false,
		},
		{
			name:      "comments disabled",
			body:      "echo 'Error: Comments are turned off for this video' >&2; exit 1",
			permanent: true,
		},
		{
			name:      "unknown failure",
			body:      "echo 'something odd' >&2; exit 3",
			permanent: false,
		},
		{
			name:      "no output written",
			body:      "exit 0",
			permanent: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			installFakeDownloader(t, tc.body+"\n")
			_, err := Downloader{}.Fetch(context.Background(), model.WorkItem{ID: "vid"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("permanent=%t want %t: %v", IsPermanent(err), tc.permanent, err)
			}
			if IsTransient(err) == tc.permanent {
				t.Fatalf("transient=%t want %t: %v", IsTransient(err), !tc.permanent, err)
			}
		})
	}
}

func TestDownloader_TimeoutIsTransient(t *testing.T) {
	installFakeDownloader(t, "exec sleep 5\n")
	_, err := Downloader{Timeout: 200 * time.Millisecond}.Fetch(context.Background(), model.WorkItem{ID: "slow"})
	if !IsTransient(err) {
		t.Fatalf("expected transient timeout, got %v", err)
	}
}

func TestDownloader_CancelledRunIsNotClassified(t *testing.T) {
	installFakeDownloader(t, "exec sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := Downloader{}.Fetch(ctx, model.WorkItem{ID: "slow"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsTransient(err) || IsPermanent(err) {
		t.Fatalf("cancellation must not be classified: %v", err)
	}
}

func TestDownloader_PassesSortLimitLanguage(t *testing.T) {
	argsLog := installFakeDownloader(t, `
: > "$out"
`)
	d := Downloader{Sort: "popular", Limit: 50, Language: "de"}
	if _, err := d.Fetch(context.Background(), model.WorkItem{ID: "vid"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(string(data))
	want := []string{"--sort", "0", "--limit", "50", "--language", "de"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", got, want)
	}

	if _, err := (Downloader{Sort: "sideways"}).Fetch(context.Background(), model.WorkItem{ID: "vid"}); !IsPermanent(err) {
		t.Fatalf("expected invalid sort to be permanent, got %v", err)
	}
}

func TestDownloader_PassesDashPrefixedID(t *testing.T) {
	installFakeDownloader(t, `
printf '{"cid":"c1","video":"%s"}\n' "$id" > "$out"
`)
	for _, id := range []string{"dQw4w9WgXcQ", "-2UkHRsoSBQ"} {
		rs, err := (Downloader{}).Fetch(context.Background(), model.WorkItem{ID: id})
		if err != nil {
			t.Fatalf("fetch %s: %v", id, err)
		}
		if len(rs) != 1 || !strings.Contains(string(rs[0]), `"video":"`+id+`"`) {
			t.Fatalf("fetch %s: unexpected result %s", id, rs)
		}
	}
}

func TestClassify_PermanentWinsOverTransient(t *testing.T) {
	err := Classify(errors.New("exit status 1"), "HTTP Error 404: Not Found (timeout while retrying)")
	if !IsPermanent(err) {
		t.Fatalf("expected permanent, got %v", err)
	}
	if Classify(nil, "anything") != nil {
		t.Fatalf("nil error must stay nil")
	}
}
