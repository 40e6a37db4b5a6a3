package reelpost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	MediaExt   = ".mp4"
	CaptionExt = ".txt"
)

// StagingArea is the directory a single pipeline run downloads into.
type StagingArea struct {
	Dir string
}

// Inventory lists what survived sanitization.
type Inventory struct {
	Dir      string
	Media    []string
	Captions []string
}

// FileSet is a validated inventory: exactly one video and one caption.
type FileSet struct {
	Media   string
	Caption string
}

// removeAll is swapped in tests to simulate filesystem failures.
var removeAll = os.RemoveAll

// Create makes the staging directory. The directory itself must not exist
// yet; missing parents are created.
func (a StagingArea) Create() error {
	if parent := filepath.Dir(a.Dir); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return IOFailureError{Op: "mkdir", Path: parent, Err: err}
		}
	}
	if err := os.Mkdir(a.Dir, 0o755); err != nil {
		return IOFailureError{Op: "mkdir", Path: a.Dir, Err: err}
	}
	return nil
}

// Acquire resolves code through src and downloads the post into the staging
// area, which must already exist.
func Acquire(ctx context.Context, src Source, code Shortcode, area StagingArea) error {
	meta, err := src.Resolve(ctx, code)
	if err != nil {
		return AcquisitionError{Shortcode: code, Err: fmt.Errorf("resolve: %w", err)}
	}
	if _, err := src.Fetch(ctx, meta, area.Dir); err != nil {
		return AcquisitionError{Shortcode: code, Err: fmt.Errorf("fetch: %w", err)}
	}
	return nil
}

// Sanitize removes every entry whose name does not end in the media or
// caption extension and returns what is left. Running it twice is a no-op
// the second time.
func (a StagingArea) Sanitize() (Inventory, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return Inventory{}, IOFailureError{Op: "list", Path: a.Dir, Err: err}
	}

	inv := Inventory{Dir: a.Dir}
	for _, entry := range entries {
		path := filepath.Join(a.Dir, entry.Name())
		kind, keep := classify(entry)
		if !keep {
			if err := removeAll(path); err != nil {
				return Inventory{}, IOFailureError{Op: "remove", Path: path, Err: err}
			}
			continue
		}
		switch kind {
		case ArtifactMedia:
			inv.Media = append(inv.Media, path)
		case ArtifactCaption:
			inv.Captions = append(inv.Captions, path)
		}
	}

	sort.Strings(inv.Media)
	sort.Strings(inv.Captions)
	return inv, nil
}

func classify(entry os.DirEntry) (ArtifactKind, bool) {
	if entry.IsDir() {
		return "", false
	}
	name := entry.Name()
	switch {
	case strings.HasSuffix(name, MediaExt):
		return ArtifactMedia, true
	case strings.HasSuffix(name, CaptionExt):
		return ArtifactCaption, true
	}
	return "", false
}

// Validate requires exactly one media and one caption file.
func (inv Inventory) Validate() (FileSet, error) {
	media, err := single(ArtifactMedia, inv.Dir, inv.Media)
	if err != nil {
		return FileSet{}, err
	}
	caption, err := single(ArtifactCaption, inv.Dir, inv.Captions)
	if err != nil {
		return FileSet{}, err
	}
	return FileSet{Media: media, Caption: caption}, nil
}

func single(kind ArtifactKind, dir string, paths []string) (string, error) {
	switch len(paths) {
	case 0:
		return "", MissingArtifactError{Kind: kind, Dir: dir}
	case 1:
		return paths[0], nil
	}
	return "", AmbiguousArtifactError{Kind: kind, Paths: paths}
}

// ReadCaption returns the caption file as text. The content itself is not
// checked beyond being valid UTF-8.
func ReadCaption(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", IOFailureError{Op: "read", Path: path, Err: err}
	}
	if !utf8.Valid(data) {
		return "", IOFailureError{Op: "read", Path: path, Err: errors.New("caption is not valid UTF-8")}
	}
	return string(data), nil
}

// Teardown removes the staging directory and everything in it.
func (a StagingArea) Teardown() error {
	if err := removeAll(a.Dir); err != nil {
		return IOFailureError{Op: "teardown", Path: a.Dir, Err: err}
	}
	return nil
}
