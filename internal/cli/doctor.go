package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"yt-comment-collector/internal/comments"
	"yt-comment-collector/internal/config"
	"yt-comment-collector/internal/runstore"
	"yt-comment-collector/internal/ytdlp"
)

type doctorResult struct {
	OK     bool          `json:"ok"`
	Config string        `json:"config,omitempty"`
	Checks []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func newDoctorCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and writable directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, nil)
			if err != nil {
				return err
			}
			res := runDoctorChecks(cfg)
			out := cmd.OutOrStdout()
			if jsonOut {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				if res.Config != "" {
					fmt.Fprintf(out, "config: %s\n", res.Config)
				}
				for _, c := range res.Checks {
					status := "ok"
					if !c.OK {
						status = "fail"
					}
					fmt.Fprintf(out, "%s: %s (%s)\n", c.Name, status, c.Message)
				}
			}
			if !res.OK {
				return errors.New("doctor checks failed")
			}
			if !jsonOut {
				fmt.Fprintln(out, "doctor: all checks passed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func runDoctorChecks(cfg *config.Config) doctorResult {
	checks := make([]doctorCheck, 0, 7)

	yt := ytdlp.DependencyStatus(cfg.YTDLPPath)
	checks = append(checks, doctorCheck{
		Name:    "dependency:yt-dlp",
		OK:      yt.Found,
		Message: dependencyMessage(yt.Found, yt.Path, cfg.YTDLPPath),
	})
	dl := comments.DependencyStatus(cfg.DownloaderPath)
	checks = append(checks, doctorCheck{
		Name:    "dependency:youtube-comment-downloader",
		OK:      dl.Found,
		Message: dependencyMessage(dl.Found, dl.Path, cfg.DownloaderPath),
	})
	if strings.TrimSpace(cfg.JSRuntime) != "" {
		rt, err := ytdlp.CheckJSRuntime(cfg.JSRuntime)
		msg := "js runtime " + rt + " available"
		if err != nil {
			msg = err.Error()
		}
		checks = append(checks, doctorCheck{Name: "dependency:js-runtime", OK: err == nil, Message: msg})
	}

	for _, d := range []struct{ name, path string }{
		{"directory:data", cfg.DataDir},
		{"directory:raw", cfg.RawDir},
		{"directory:progress", cfg.ProgressDir},
		{"directory:logs", cfg.LogsDir},
	} {
		ok, msg := ensureWritableDir(d.path)
		checks = append(checks, doctorCheck{Name: d.name, OK: ok, Message: d.path + ": " + msg})
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorResult{OK: ok, Config: cfg.File, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "yt-comment-collector-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
