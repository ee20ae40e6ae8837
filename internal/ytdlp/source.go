package ytdlp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"yt-comment-collector/internal/model"
)

// ErrSourceUnavailable is fatal for a run: without a listing no video can be
// processed.
var ErrSourceUnavailable = errors.New("channel source unavailable")

const DefaultListTimeout = 5 * time.Minute

type flatEntry struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Type    string            `json:"_type"`
	Entries []json.RawMessage `json:"entries"`
}

// Source lists the videos of a channel through yt-dlp.
type Source struct {
	Binary             string
	CookiesPath        string
	CookiesFromBrowser string
	JSRuntime          string
	Timeout            time.Duration
	Logger             *zap.SugaredLogger
}

// ListItems returns the channel's videos in listing order. With maxItems > 0
// only that many leading entries are returned.
func (s Source) ListItems(ctx context.Context, channelRef string, maxItems int) ([]model.WorkItem, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultListTimeout
	}
	if !DependencyStatus(s.Binary).Found {
		return nil, errors.WithHint(
			errors.Wrapf(ErrSourceUnavailable, "%s is not installed or not on PATH", binaryOrDefault(s.Binary)),
			"install yt-dlp or set ytdlp_path in the config",
		)
	}

	logger.Infow("listing channel videos", "channel", channelRef)
	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := FlatPlaylistJSON(listCtx, FlatPlaylistOptions{
		Binary:             s.Binary,
		SourceURL:          channelRef,
		CookiesPath:        s.CookiesPath,
		CookiesFromBrowser: s.CookiesFromBrowser,
		JSRuntime:          s.JSRuntime,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "list %s", channelRef), ErrSourceUnavailable)
	}

	items, err := parseFlatPlaylist(raw)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "list %s", channelRef), ErrSourceUnavailable)
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(ErrSourceUnavailable, "no videos found for %s", channelRef)
	}
	logger.Infow("found channel videos", "channel", channelRef, "count", len(items))

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// parseFlatPlaylist flattens the listing. Channel URLs without a tab suffix
// come back as a collection of tab playlists (Videos, Shorts, Live); their
// entries are walked in order and duplicate IDs keep the first position.
func parseFlatPlaylist(raw []byte) ([]model.WorkItem, error) {
	var root flatEntry
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, errors.Wrap(err, "parse yt-dlp flat playlist JSON")
	}

	items := make([]model.WorkItem, 0, len(root.Entries))
	seen := make(map[string]bool)
	var walk func(entries []json.RawMessage) error
	walk = func(entries []json.RawMessage) error {
		for _, e := range entries {
			var entry flatEntry
			if err := json.Unmarshal(e, &entry); err != nil {
				return errors.Wrap(err, "parse yt-dlp entry")
			}
			if entry.Type == "playlist" || len(entry.Entries) > 0 {
				if err := walk(entry.Entries); err != nil {
					return err
				}
				continue
			}
			id := strings.TrimSpace(entry.ID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			items = append(items, model.WorkItem{
				ID:    id,
				Index: len(items) + 1,
				Title: strings.TrimSpace(entry.Title),
			})
		}
		return nil
	}
	if err := walk(root.Entries); err != nil {
		return nil, err
	}
	return items, nil
}
