package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"yt-comment-collector/internal/config"
)

// ErrInterrupted is returned when a collection run was stopped before it
// reached the end of the listing. Progress up to that point is saved.
var ErrInterrupted = errors.New("collection interrupted")

// ExitCode maps a Run error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted):
		return 130
	default:
		return 1
	}
}

func Run(args []string) error {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

// globalFlags are shared by every command. Only flags the user set override
// the configuration.
type globalFlags struct {
	configFile string
	dataDir    string
	backend    string
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "yt-comment-collector",
		Short: "Resumable YouTube channel comment collector",
		Long: `yt-comment-collector downloads the comments of every video on a channel.

Progress is checkpointed after each video, so an interrupted run resumes
where it stopped. Videos that keep failing are recorded and skipped until
you retry them with --retry-failed or reset-failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "config file (default ./"+config.DefaultFileName+" when present)")
	pf.StringVar(&g.dataDir, "data-dir", "", "data directory holding raw_json/ and progress/")
	pf.StringVar(&g.backend, "backend", "", "checkpoint backend: text or sqlite")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log every step to stderr")

	root.AddCommand(newCollectCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newResetFailedCmd(g))
	root.AddCommand(newDoctorCmd(g))
	return root
}

func loadConfig(cmd *cobra.Command, g *globalFlags, extra map[string]any) (*config.Config, error) {
	overrides := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		overrides[config.KeyDataDir] = strings.TrimSpace(g.dataDir)
	}
	if flags.Changed("backend") {
		overrides[config.KeyCheckpointBackend] = strings.ToLower(strings.TrimSpace(g.backend))
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return config.Load(config.Options{
		ConfigFile: g.configFile,
		Overrides:  overrides,
	})
}
