// Package logging builds the collector's zap logger: a console core for the
// operator and, when a logs directory is configured, a JSON file per run.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"yt-comment-collector/internal/runstore"
)

// Field names shared by every log line.
const (
	FieldRunID    = "run_id"
	FieldVideoID  = "video_id"
	FieldAttempt  = "attempt"
	FieldAttempts = "attempts"
	FieldDelay    = "delay"
	FieldOutcome  = "outcome"
	FieldCause    = "cause"
	FieldComments = "comments"
	FieldPosition = "position"
	FieldTotal    = "total"
	FieldError    = "error"
)

type Options struct {
	// Console receives human-oriented output; nil means stderr.
	Console io.Writer
	// ConsoleLevel filters the console core. The file core always logs at
	// debug level.
	ConsoleLevel zapcore.Level
	// JSON switches the console encoder to JSON.
	JSON bool
	// LogsDir enables the per-run log file when set.
	LogsDir string
	Now     func() time.Time
}

type Logger struct {
	*zap.SugaredLogger
	// Path is the per-run log file, empty when file logging is off.
	Path string

	file *os.File
}

// FileName returns the per-run log file name for a run started at t.
func FileName(t time.Time) string {
	return "collect_" + t.Format("20060102_150405") + ".log"
}

func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(opts.JSON), zapcore.AddSync(console), opts.ConsoleLevel),
	}

	out := &Logger{}
	if opts.LogsDir != "" {
		if err := runstore.Mkdir(opts.LogsDir); err != nil {
			return nil, err
		}
		path := filepath.Join(opts.LogsDir, FileName(now()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", path)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
		out.Path = path
		out.file = f
	}

	out.SugaredLogger = zap.New(zapcore.NewTee(cores...)).Sugar()
	return out, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func consoleEncoder(jsonOutput bool) zapcore.Encoder {
	if jsonOutput {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}
