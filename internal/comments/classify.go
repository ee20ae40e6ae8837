package comments

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTransient marks failures worth another attempt: network trouble,
	// throttling, timeouts.
	ErrTransient = errors.New("transient fetch failure")
	// ErrPermanent marks failures that will not change on retry: the video is
	// gone, private, or has comments turned off.
	ErrPermanent = errors.New("permanent fetch failure")
)

var permanentHints = []string{
	"video unavailable",
	"private video",
	"this video is private",
	"has been removed",
	"does not exist",
	"comments are turned off",
	"comments disabled",
	"comments are disabled",
	"members-only",
	"sign in to confirm your age",
	"http error 404",
	"http error 410",
	"404 client error",
	"410 client error",
}

var transientHints = []string{
	"429",
	"too many requests",
	"rate limit",
	"timed out",
	"timeout",
	"temporarily unavailable",
	"temporary failure",
	"connection reset",
	"connection refused",
	"connection aborted",
	"service unavailable",
	"network is unreachable",
	"remote end closed connection",
	"http error 5",
	"server error",
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Classify marks a failed download attempt as transient or permanent.
// Permanent hints win over transient ones; anything unrecognised is
// transient so a bounded retry still happens.
func Classify(err error, output string) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, ErrTransient)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return errors.Mark(err, ErrPermanent)
	}

	text := strings.ToLower(err.Error() + "\n" + output)
	for _, h := range permanentHints {
		if strings.Contains(text, h) {
			return errors.Mark(err, ErrPermanent)
		}
	}
	for _, h := range transientHints {
		if strings.Contains(text, h) {
			return errors.Mark(err, ErrTransient)
		}
	}
	return errors.Mark(err, ErrTransient)
}
