package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"yt-comment-collector/internal/checkpoint"
	"yt-comment-collector/internal/collector"
	"yt-comment-collector/internal/comments"
	"yt-comment-collector/internal/config"
	"yt-comment-collector/internal/logging"
	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/progress"
	"yt-comment-collector/internal/retry"
	"yt-comment-collector/internal/sink"
	"yt-comment-collector/internal/ytdlp"
)

type collectFlags struct {
	maxVideos   int
	retryFailed bool
	live        bool
	jsonOut     bool
}

func newCollectCmd(g *globalFlags) *cobra.Command {
	f := &collectFlags{}
	cmd := &cobra.Command{
		Use:   "collect <channel-url>",
		Short: "Download comments for every video of a channel",
		Long: `Lists the channel's videos with yt-dlp and downloads the comments of each
video that is not yet recorded as completed or failed. Each video's comments
are written to <raw_dir>/<video-id>.json before the video is checkpointed.`,
		Example: `  yt-comment-collector collect https://www.youtube.com/@channel/videos
  yt-comment-collector collect --max-videos 20 --progress https://www.youtube.com/@channel
  yt-comment-collector collect --retry-failed --backend sqlite https://www.youtube.com/@channel`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, g, f, strings.TrimSpace(args[0]))
		},
	}
	cmd.Flags().IntVar(&f.maxVideos, "max-videos", 0, "only process the first N videos of the listing (0 = all)")
	cmd.Flags().BoolVar(&f.retryFailed, "retry-failed", false, "retry videos previously recorded as failed")
	cmd.Flags().BoolVar(&f.live, "progress", false, "show a live progress view (interactive terminals only)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run summary as JSON")
	return cmd
}

func runCollect(cmd *cobra.Command, g *globalFlags, f *collectFlags, channel string) error {
	if f.maxVideos < 0 {
		return errors.Newf("--max-videos must be >= 0, got %d", f.maxVideos)
	}
	cfg, err := loadConfig(cmd, g, nil)
	if err != nil {
		return err
	}
	stdout := cmd.OutOrStdout()
	live := f.live && !f.jsonOut && isTerminal(stdout)

	logger, err := newRunLogger(cmd.ErrOrStderr(), cfg, g.verbose, live)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	log := logger.SugaredLogger
	if cfg.File != "" {
		log.Infow("using config file", "path", cfg.File)
	}

	if err := preflight(cfg); err != nil {
		return err
	}

	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.ProgressDir, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("close checkpoint store", logging.FieldError, err)
		}
	}()

	downloader := comments.Downloader{
		Binary:   cfg.DownloaderPath,
		Sort:     cfg.CommentSort,
		Limit:    cfg.CommentLimit,
		Language: cfg.CommentLanguage,
		Timeout:  cfg.FetchTimeout,
		Logger:   log,
	}
	c := &collector.Collector{
		Source: ytdlp.Source{
			Binary:             cfg.YTDLPPath,
			CookiesPath:        cfg.CookiesPath,
			CookiesFromBrowser: cfg.CookiesFromBrowser,
			JSRuntime:          cfg.JSRuntime,
			Timeout:            cfg.ListTimeout,
			Logger:             log,
		},
		Store:       store,
		Policy:      retry.Policy{MaxAttempts: cfg.MaxAttempts, Schedule: cfg.Backoff},
		Sink:        sink.New(cfg.RawDir),
		Limiter:     collector.NewLimiter(cfg.ItemInterval),
		Logger:      log,
		LockDir:     cfg.DataDir,
		SummaryPath: filepath.Join(cfg.ProgressDir, collector.LastRunFile),
	}
	opts := collector.Options{Channel: channel, MaxItems: f.maxVideos, RetryFailed: f.retryFailed}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var summary model.Summary
	switch {
	case live:
		summary, err = progress.RunLive(ctx, channel, stdout, func(ctx context.Context, r progress.ProgramReporter) (model.Summary, error) {
			downloader.OnProgress = r.Comments
			c.Fetcher = downloader
			c.Reporter = r
			return c.Run(ctx, opts)
		})
	case f.jsonOut:
		c.Fetcher = downloader
		summary, err = c.Run(ctx, opts)
	default:
		c.Fetcher = downloader
		c.Reporter = progress.NewLineReporter(stdout)
		summary, err = c.Run(ctx, opts)
	}
	if err != nil {
		return err
	}

	if f.jsonOut {
		if err := printJSON(stdout, summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(stdout, progress.RenderSummary(summary))
		if logger.Path != "" {
			fmt.Fprintf(stdout, "log: %s\n", logger.Path)
		}
	}
	if summary.Interrupted {
		return errors.WithHint(ErrInterrupted, "run the same command again to resume")
	}
	return nil
}

func newRunLogger(stderr io.Writer, cfg *config.Config, verbose, live bool) (*logging.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.InfoLevel
	}
	console := stderr
	if live {
		// The live view owns the terminal; everything still reaches the log file.
		console = io.Discard
	}
	return logging.New(logging.Options{
		Console:      console,
		ConsoleLevel: level,
		JSON:         cfg.LogJSON,
		LogsDir:      cfg.LogsDir,
	})
}

// preflight fails fast on missing tools, so a broken install does not mark
// every video as failed.
func preflight(cfg *config.Config) error {
	if dep := ytdlp.DependencyStatus(cfg.YTDLPPath); !dep.Found {
		return errors.WithHint(
			errors.Wrapf(ytdlp.ErrSourceUnavailable, "%s not found", cfg.YTDLPPath),
			"install yt-dlp (https://github.com/yt-dlp/yt-dlp) or set ytdlp_path",
		)
	}
	if dep := comments.DependencyStatus(cfg.DownloaderPath); !dep.Found {
		return errors.WithHint(
			errors.Newf("%s not found", cfg.DownloaderPath),
			"pip install youtube-comment-downloader, or set downloader_path",
		)
	}
	if strings.TrimSpace(cfg.JSRuntime) != "" {
		if _, err := ytdlp.CheckJSRuntime(cfg.JSRuntime); err != nil {
			return err
		}
	}
	return nil
}
