// Package acquire turns a remote source URL into media the clip extractor can
// read: either a local file covering the requested window or a direct stream
// locator. Acquisition is delegated to yt-dlp.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Strategy names.
const (
	NameStream  = "stream"
	NameSection = "section"
	NameFull    = "full"
)

// sectionBuffer pads a bounded-section download on both sides so imprecise
// keyframe seeking still covers the requested window.
const sectionBuffer = 2.0

// ErrUnknownStrategy is returned for a strategy name no acquirer implements.
var ErrUnknownStrategy = errors.New("unknown acquisition strategy")

// Window is the part of the source the caller wants, in seconds.
type Window struct {
	Start    float64
	Duration float64
}

// Strategy acquires media for a window of a remote source.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, sourceURL string, w Window) (*Acquisition, error)
}

// Acquisition is the result of a successful Acquire. Exactly one of LocalPath
// and StreamURL is set. Offset is where the requested window begins inside
// the acquired media.
type Acquisition struct {
	LocalPath string
	StreamURL string
	Offset    float64
	Strategy  string

	dir   string
	token string
}

// Input returns what the extractor should open.
func (a *Acquisition) Input() string {
	if a.LocalPath != "" {
		return a.LocalPath
	}
	return a.StreamURL
}

// Release deletes the downloaded file and any sibling fragments. It is safe to
// call on a nil or stream acquisition and more than once.
func (a *Acquisition) Release() error {
	if a == nil || a.token == "" {
		return nil
	}
	return removeToken(a.dir, a.token)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// removeToken deletes every file in dir whose name starts with token.
func removeToken(dir, token string) error {
	matches, err := filepath.Glob(filepath.Join(dir, token+"*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// findOutput locates the finished download for token. Partial fragments and
// empty files do not count.
func findOutput(dir, token string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, token+".") || isFragment(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		candidates = append(candidates, name)
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no output file for %s in %s", token, dir)
	}
	for _, c := range candidates {
		if c == token+".mp4" {
			return filepath.Join(dir, c), nil
		}
	}
	return filepath.Join(dir, candidates[0]), nil
}

func isFragment(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}
