// Package comments downloads the comment threads of a single video.
package comments

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"yt-comment-collector/internal/model"
)

const (
	DefaultBinary  = "youtube-comment-downloader"
	DefaultTimeout = 3 * time.Minute
)

// Fetcher performs exactly one attempt; retrying is the caller's concern.
type Fetcher interface {
	Fetch(ctx context.Context, item model.WorkItem) (model.ResultSet, error)
}

type FetcherFunc func(ctx context.Context, item model.WorkItem) (model.ResultSet, error)

func (f FetcherFunc) Fetch(ctx context.Context, item model.WorkItem) (model.ResultSet, error) {
	return f(ctx, item)
}

// Downloader runs youtube-comment-downloader for one video and reads its
// line-delimited JSON output.
type Downloader struct {
	Binary   string
	Sort     string // popular or recent
	Limit    int
	Language string
	Timeout  time.Duration
	TempDir  string
	Logger   *zap.SugaredLogger
	// OnProgress receives the running comment count reported by the tool.
	OnProgress func(item model.WorkItem, comments int)
}

type DependencyReport struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

func DependencyStatus(binary string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(binaryOrDefault(binary)); err == nil {
		report.Found = true
		report.Path = path
	}
	return report
}

var reDownloaded = regexp.MustCompile(`(?i)downloaded\s+([0-9]+)\s+comment`)

func (d Downloader) Fetch(ctx context.Context, item model.WorkItem) (model.ResultSet, error) {
	if strings.TrimSpace(item.ID) == "" {
		return nil, errors.Mark(errors.New("video ID is required"), ErrPermanent)
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	workDir, err := os.MkdirTemp(d.TempDir, "ytcc-fetch-*")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create fetch work dir"), ErrTransient)
	}
	defer os.RemoveAll(workDir)
	outPath := filepath.Join(workDir, "comments.json")

	args, err := d.args(item.ID, outPath)
	if err != nil {
		return nil, errors.Mark(err, ErrPermanent)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, runErr := d.run(fetchCtx, item, args)
	if runErr != nil {
		if ctx.Err() != nil {
			// The run itself was cancelled; this is not a verdict on the video.
			return nil, ctx.Err()
		}
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			runErr = errors.Mark(errors.Wrapf(runErr, "timed out after %s", timeout), ErrTransient)
		}
		return nil, Classify(errors.Wrapf(runErr, "fetch comments for %s", item.ID), output)
	}

	rs, err := readResultSet(outPath)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch comments for %s", item.ID), ErrTransient)
	}
	return rs, nil
}

func (d Downloader) args(videoID, outPath string) ([]string, error) {
	// Attached form: ids may start with "-", which a separate argument would
	// turn into an option.
	args := []string{"--youtubeid=" + videoID, "--output", outPath}
	switch strings.ToLower(strings.TrimSpace(d.Sort)) {
	case "":
	case "popular", "top":
		args = append(args, "--sort", "0")
	case "recent", "new", "newest":
		args = append(args, "--sort", "1")
	default:
		return nil, errors.Newf("invalid comment sort %q (expected popular or recent)", d.Sort)
	}
	if d.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(d.Limit))
	}
	if lang := strings.TrimSpace(d.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args, nil
}

func (d Downloader) run(ctx context.Context, item model.WorkItem, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binaryOrDefault(d.Binary), args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", errors.Wrap(err, "setup stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", errors.Wrap(err, "setup stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return "", errors.Wrapf(err, "start %s", binaryOrDefault(d.Binary))
	}

	var buf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup
	read := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&buf, line)
			mu.Unlock()
			if d.Logger != nil {
				d.Logger.Debugw("downloader output", "video_id", item.ID, "line", line)
			}
			if d.OnProgress != nil {
				if m := reDownloaded.FindStringSubmatch(line); len(m) > 1 {
					if n, err := strconv.Atoi(m[1]); err == nil {
						d.OnProgress(item, n)
					}
				}
			}
		}
	}

	wg.Add(2)
	go read(stdoutPipe)
	go read(stderrPipe)
	wg.Wait()

	err = cmd.Wait()
	mu.Lock()
	defer mu.Unlock()
	output := strings.TrimSpace(buf.String())
	if err != nil {
		return output, errors.Wrapf(err, "%s failed: %s", binaryOrDefault(d.Binary), output)
	}
	return output, nil
}

// readResultSet parses one JSON document per line, keeping source order.
func readResultSet(path string) (model.ResultSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("downloader exited without writing output")
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	rs := make(model.ResultSet, 0)
	for n, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, errors.Newf("downloader output line %d is not valid JSON", n+1)
		}
		rs = append(rs, json.RawMessage(append([]byte(nil), line...)))
	}
	return rs, nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func binaryOrDefault(binary string) string {
	if b := strings.TrimSpace(binary); b != "" {
		return b
	}
	return DefaultBinary
}
