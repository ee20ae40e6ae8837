package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"

	"yt-comment-collector/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(cli.ExitCode(err))
	}
}
