// Package config resolves collector settings from defaults, an optional
// collector.toml, YTCC_* environment variables (a .env file is loaded first)
// and command-line overrides, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"yt-comment-collector/internal/checkpoint"
)

const (
	EnvPrefix       = "YTCC"
	DefaultFileName = "collector.toml"
	DefaultEnvFile  = ".env"
)

const (
	KeyDataDir            = "data_dir"
	KeyRawDir             = "raw_dir"
	KeyProgressDir        = "progress_dir"
	KeyLogsDir            = "logs_dir"
	KeyCheckpointBackend  = "checkpoint_backend"
	KeyMaxAttempts        = "max_attempts"
	KeyBackoff            = "backoff"
	KeyFetchTimeout       = "fetch_timeout"
	KeyListTimeout        = "list_timeout"
	KeyItemInterval       = "item_interval"
	KeyYTDLPPath          = "ytdlp_path"
	KeyDownloaderPath     = "downloader_path"
	KeyCookiesPath        = "cookies_path"
	KeyCookiesFromBrowser = "cookies_from_browser"
	KeyJSRuntime          = "js_runtime"
	KeyCommentSort        = "comment_sort"
	KeyCommentLimit       = "comment_limit"
	KeyCommentLanguage    = "comment_language"
	KeyLogJSON            = "log_json"
)

// ErrInvalid marks configuration that cannot run.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DataDir            string          `mapstructure:"data_dir"`
	RawDir             string          `mapstructure:"raw_dir"`
	ProgressDir        string          `mapstructure:"progress_dir"`
	LogsDir            string          `mapstructure:"logs_dir"`
	CheckpointBackend  string          `mapstructure:"checkpoint_backend"`
	MaxAttempts        int             `mapstructure:"max_attempts"`
	Backoff            []time.Duration `mapstructure:"backoff"`
	FetchTimeout       time.Duration   `mapstructure:"fetch_timeout"`
	ListTimeout        time.Duration   `mapstructure:"list_timeout"`
	ItemInterval       time.Duration   `mapstructure:"item_interval"`
	YTDLPPath          string          `mapstructure:"ytdlp_path"`
	DownloaderPath     string          `mapstructure:"downloader_path"`
	CookiesPath        string          `mapstructure:"cookies_path"`
	CookiesFromBrowser string          `mapstructure:"cookies_from_browser"`
	JSRuntime          string          `mapstructure:"js_runtime"`
	CommentSort        string          `mapstructure:"comment_sort"`
	CommentLimit       int             `mapstructure:"comment_limit"`
	CommentLanguage    string          `mapstructure:"comment_language"`
	LogJSON            bool            `mapstructure:"log_json"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type Options struct {
	// ConfigFile must exist when set. Otherwise collector.toml in WorkDir is
	// read if present.
	ConfigFile string
	// EnvFile is loaded into the process environment when present. Variables
	// already set are not overridden.
	EnvFile string
	WorkDir string
	// Overrides are applied last, keyed by the Key* constants.
	Overrides map[string]any
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeyRawDir, "")
	v.SetDefault(KeyProgressDir, "")
	v.SetDefault(KeyLogsDir, "logs")
	v.SetDefault(KeyCheckpointBackend, checkpoint.BackendText)
	v.SetDefault(KeyMaxAttempts, 3)
	v.SetDefault(KeyBackoff, []string{"1s", "3s", "5s"})
	v.SetDefault(KeyFetchTimeout, "180s")
	v.SetDefault(KeyListTimeout, "300s")
	v.SetDefault(KeyItemInterval, "500ms")
	v.SetDefault(KeyYTDLPPath, "yt-dlp")
	v.SetDefault(KeyDownloaderPath, "youtube-comment-downloader")
	v.SetDefault(KeyCookiesPath, "")
	v.SetDefault(KeyCookiesFromBrowser, "")
	v.SetDefault(KeyJSRuntime, "")
	v.SetDefault(KeyCommentSort, "")
	v.SetDefault(KeyCommentLimit, 0)
	v.SetDefault(KeyCommentLanguage, "")
	v.SetDefault(KeyLogJSON, false)
}

func Load(opts Options) (*Config, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = filepath.Join(workDir, DefaultEnvFile)
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	file := strings.TrimSpace(opts.ConfigFile)
	if file == "" {
		candidate := filepath.Join(workDir, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			file = candidate
		}
	} else if _, err := os.Stat(file); err != nil {
		return nil, errors.WithHint(
			errors.Mark(errors.Wrapf(err, "config file %s", file), ErrInvalid),
			"pass an existing file to --config or omit it",
		)
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read config file %s", file), ErrInvalid)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode configuration"), ErrInvalid)
	}
	cfg.File = file
	cfg.resolveDirs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveDirs places unset raw and progress directories under DataDir, which
// matches the layout older collectors produced.
func (c *Config) resolveDirs() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if strings.TrimSpace(c.RawDir) == "" {
		c.RawDir = filepath.Join(c.DataDir, "raw_json")
	}
	if strings.TrimSpace(c.ProgressDir) == "" {
		c.ProgressDir = filepath.Join(c.DataDir, "progress")
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is empty")
	}
	switch c.CheckpointBackend {
	case checkpoint.BackendText, checkpoint.BackendSQLite:
	default:
		problems = append(problems, "checkpoint_backend must be "+checkpoint.BackendText+" or "+checkpoint.BackendSQLite+", got "+quote(c.CheckpointBackend))
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be >= 1")
	}
	if len(c.Backoff) < c.MaxAttempts-1 {
		problems = append(problems, "backoff needs at least max_attempts-1 delays")
	}
	for _, d := range c.Backoff {
		if d < 0 {
			problems = append(problems, "backoff delays must not be negative")
			break
		}
	}
	if c.FetchTimeout <= 0 {
		problems = append(problems, "fetch_timeout must be positive")
	}
	if c.ListTimeout <= 0 {
		problems = append(problems, "list_timeout must be positive")
	}
	if c.ItemInterval < 0 {
		problems = append(problems, "item_interval must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.CommentSort)) {
	case "", "popular", "top", "recent", "new", "newest":
	default:
		problems = append(problems, "comment_sort must be popular or recent, got "+quote(c.CommentSort))
	}
	if c.CommentLimit < 0 {
		problems = append(problems, "comment_limit must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Mark(errors.Newf("%s", strings.Join(problems, "; ")), ErrInvalid)
}

func quote(s string) string {
	return `"` + s + `"`
}
