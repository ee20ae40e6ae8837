package ytdlp

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const DefaultBinary = "yt-dlp"

type FlatPlaylistOptions struct {
	Binary             string
	SourceURL          string
	CookiesPath        string
	CookiesFromBrowser string
	JSRuntime          string
}

type DependencyReport struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

func CheckJSRuntime(raw string) (string, error) {
	runtime, ok := normalizeJSRuntime(raw)
	if !ok {
		return "", errors.Newf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(raw))
	}
	if runtime == "auto" {
		return runtime, nil
	}
	candidates := jsRuntimeBinaryCandidates(runtime)
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return runtime, nil
		}
	}
	return "", errors.Newf("missing dependency for js runtime %q: install one of [%s] or set js runtime to auto", runtime, strings.Join(candidates, ", "))
}

func DependencyStatus(binary string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(binaryOrDefault(binary)); err == nil {
		report.Found = true
		report.Path = path
	}
	return report
}

// FlatPlaylistJSON returns the raw `yt-dlp --flat-playlist -J` document for a
// channel or playlist URL.
func FlatPlaylistJSON(ctx context.Context, opts FlatPlaylistOptions) ([]byte, error) {
	if strings.TrimSpace(opts.SourceURL) == "" {
		return nil, errors.New("source URL is required")
	}

	args := []string{"--flat-playlist", "-J"}
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.CookiesFromBrowser) != "" {
		args = append(args, "--cookies-from-browser", opts.CookiesFromBrowser)
	}
	var err error
	args, err = appendJSRuntimeArgs(args, opts.JSRuntime)
	if err != nil {
		return nil, err
	}
	args = append(args, opts.SourceURL)

	cmd := exec.CommandContext(ctx, binaryOrDefault(opts.Binary), args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "yt-dlp did not finish")
		}
		return nil, errors.Wrapf(err, "yt-dlp failed: %s", strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("yt-dlp returned empty output")
	}
	return stdout.Bytes(), nil
}

func appendJSRuntimeArgs(args []string, rawRuntime string) ([]string, error) {
	runtime, ok := normalizeJSRuntime(rawRuntime)
	if !ok {
		return nil, errors.Newf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(rawRuntime))
	}
	if runtime == "auto" {
		return args, nil
	}
	return append(args, "--no-js-runtimes", "--js-runtimes", runtime), nil
}

func normalizeJSRuntime(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return "auto", true
	case "deno", "node", "quickjs", "bun":
		return strings.ToLower(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

func jsRuntimeBinaryCandidates(runtime string) []string {
	switch runtime {
	case "quickjs":
		return []string{"quickjs", "qjs"}
	default:
		return []string{runtime}
	}
}

func binaryOrDefault(binary string) string {
	if b := strings.TrimSpace(binary); b != "" {
		return b
	}
	return DefaultBinary
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Wrapf(err, "resolve cookies path %s", p)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", errors.Wrapf(err, "cookies file %s", abs)
	}
	return abs, nil
}
