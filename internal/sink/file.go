// Package sink persists fetched comment sets as one line-delimited JSON file
// per video under the raw output directory.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/runstore"
)

var ErrWrite = errors.New("result sink write failed")

const fileExt = ".json"

type FileSink struct {
	Dir string
}

func New(dir string) FileSink {
	return FileSink{Dir: dir}
}

func (s FileSink) Path(id string) string {
	return filepath.Join(s.Dir, id+fileExt)
}

// Persist replaces the unit for id with rs. A unit is either absent, the
// previous content, or the full new content.
func (s FileSink) Persist(ctx context.Context, id string, rs model.ResultSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(id); err != nil {
		return errors.Mark(err, ErrWrite)
	}

	data, err := encode(rs)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "encode comments for %s", id), ErrWrite)
	}
	if err := runstore.WriteBytes(s.Path(id), data); err != nil {
		return errors.Mark(err, ErrWrite)
	}
	return nil
}

// List returns the identifiers of persisted units in lexical order.
func (s FileSink) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", s.Dir)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func encode(rs model.ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	for i, record := range rs {
		// One record per line, so embedded newlines are compacted away.
		if err := json.Compact(&buf, record); err != nil {
			return nil, errors.Wrapf(err, "record %d", i+1)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func checkName(id string) error {
	switch {
	case id == "":
		return errors.New("empty video id")
	case id == "." || id == "..":
		return errors.Newf("unsafe video id %q", id)
	case strings.HasPrefix(id, "."):
		return errors.Newf("video id %q starts with a dot", id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return errors.Newf("video id %q contains a path separator", id)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return errors.Newf("video id %q contains control characters", id)
		}
	}
	return nil
}
