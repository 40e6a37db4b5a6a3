package reelpost

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSanitize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")
	writeFiles(t, dir,
		"2024-05-01_10-00-00_UTC.mp4",
		"2024-05-01_10-00-00_UTC.txt",
		"2024-05-01_10-00-00_UTC.jpg",
		"2024-05-01_10-00-00_UTC.json.xz",
		"notes.mp4.part",
	)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.mp4"), 0o755))

	area := StagingArea{Dir: dir}
	inv, err := area.Sanitize()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2024-05-01_10-00-00_UTC.mp4", "2024-05-01_10-00-00_UTC.txt"}, listDir(t, dir))
	assert.Equal(t, []string{filepath.Join(dir, "2024-05-01_10-00-00_UTC.mp4")}, inv.Media)
	assert.Equal(t, []string{filepath.Join(dir, "2024-05-01_10-00-00_UTC.txt")}, inv.Captions)
}

func TestSanitizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.mp4", "a.txt", "a.jpg", "b.mp4")
	area := StagingArea{Dir: dir}

	first, err := area.Sanitize()
	require.NoError(t, err)
	afterFirst := listDir(t, dir)

	second, err := area.Sanitize()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, afterFirst, listDir(t, dir))
}

func TestSanitizeMissingDir(t *testing.T) {
	_, err := StagingArea{Dir: filepath.Join(t.TempDir(), "nope")}.Sanitize()
	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "list", ioErr.Op)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		inv      Inventory
		wantKind ArtifactKind
		missing  bool
	}{
		{"no media", Inventory{Captions: []string{"a.txt"}}, ArtifactMedia, true},
		{"no caption", Inventory{Media: []string{"a.mp4"}}, ArtifactCaption, true},
		{"empty", Inventory{}, ArtifactMedia, true},
		{"two media", Inventory{Media: []string{"a.mp4", "b.mp4"}, Captions: []string{"a.txt"}}, ArtifactMedia, false},
		{"two captions", Inventory{Media: []string{"a.mp4"}, Captions: []string{"a.txt", "b.txt"}}, ArtifactCaption, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.inv.Validate()
			require.Error(t, err)
			if tt.missing {
				var missing MissingArtifactError
				require.True(t, errors.As(err, &missing), "got %v", err)
				assert.Equal(t, tt.wantKind, missing.Kind)
				return
			}
			var ambiguous AmbiguousArtifactError
			require.True(t, errors.As(err, &ambiguous), "got %v", err)
			assert.Equal(t, tt.wantKind, ambiguous.Kind)
			assert.Len(t, ambiguous.Paths, 2)
		})
	}

	files, err := Inventory{Media: []string{"a.mp4"}, Captions: []string{"a.txt"}}.Validate()
	require.NoError(t, err)
	assert.Equal(t, FileSet{Media: "a.mp4", Caption: "a.txt"}, files)
}

func TestReadCaption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("héllo 🎬\n#reels"), 0o644))

	title, err := ReadCaption(path)
	require.NoError(t, err)
	assert.Equal(t, "héllo 🎬\n#reels", title)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xfe, 0x00}, 0o644))
	_, err = ReadCaption(bad)
	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "read", ioErr.Op)
}

type fakeSource struct {
	files      []string
	resolveErr error
	fetchErr   error
	resolved   []Shortcode
}

func (f *fakeSource) Resolve(_ context.Context, code Shortcode) (PostMetadata, error) {
	f.resolved = append(f.resolved, code)
	if f.resolveErr != nil {
		return PostMetadata{}, f.resolveErr
	}
	return PostMetadata{Shortcode: code, Caption: "caption for " + string(code)}, nil
}

func (f *fakeSource) Fetch(_ context.Context, meta PostMetadata, dir string) ([]string, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var written []string
	for _, name := range f.files {
		path := filepath.Join(dir, name)
		content := []byte("video bytes")
		if filepath.Ext(name) == CaptionExt {
			content = []byte(meta.Caption)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// failRemove makes removals of matching paths fail until the test ends.
func failRemove(t *testing.T, match func(path string) bool) {
	t.Helper()
	orig := removeAll
	removeAll = func(path string) error {
		if match(path) {
			return &fs.PathError{Op: "unlinkat", Path: path, Err: fs.ErrPermission}
		}
		return orig(path)
	}
	t.Cleanup(func() { removeAll = orig })
}

func TestCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "videos")
	area := StagingArea{Dir: dir}

	require.NoError(t, area.Create())
	assert.DirExists(t, dir)

	err := area.Create()
	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "mkdir", ioErr.Op)
	assert.Equal(t, dir, ioErr.Path)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestAcquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")
	area := StagingArea{Dir: dir}
	src := &fakeSource{files: []string{"x.mp4", "x.txt"}}

	require.NoError(t, area.Create())
	require.NoError(t, Acquire(context.Background(), src, "ABC", area))
	assert.Equal(t, []Shortcode{"ABC"}, src.resolved)
	assert.ElementsMatch(t, []string{"x.mp4", "x.txt"}, listDir(t, dir))
}

func TestAcquireErrors(t *testing.T) {
	cause := errors.New("post is private")

	for name, src := range map[string]*fakeSource{
		"resolve": {resolveErr: cause},
		"fetch":   {fetchErr: cause},
	} {
		t.Run(name, func(t *testing.T) {
			err := Acquire(context.Background(), src, "ABC", StagingArea{Dir: t.TempDir()})
			var acqErr AcquisitionError
			require.True(t, errors.As(err, &acqErr))
			assert.Equal(t, Shortcode("ABC"), acqErr.Shortcode)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestSanitizeRemoveFailure(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.mp4", "a.txt", "a.jpg")
	failRemove(t, func(path string) bool { return filepath.Ext(path) == ".jpg" })

	_, err := StagingArea{Dir: dir}.Sanitize()

	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "remove", ioErr.Op)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), ioErr.Path)
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestSanitizeReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	writeFiles(t, dir, "a.mp4", "a.txt", "a.jpg")
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	_, err := StagingArea{Dir: dir}.Sanitize()

	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "remove", ioErr.Op)
}

func TestTeardownFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")
	writeFiles(t, dir, "a.mp4")
	failRemove(t, func(path string) bool { return path == dir })

	err := StagingArea{Dir: dir}.Teardown()

	var ioErr IOFailureError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "teardown", ioErr.Op)
	assert.DirExists(t, dir)
}

func TestTeardown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")
	writeFiles(t, dir, "a.mp4")

	require.NoError(t, StagingArea{Dir: dir}.Teardown())
	assert.NoDirExists(t, dir)

	// Removing an absent directory is fine.
	require.NoError(t, StagingArea{Dir: dir}.Teardown())
}
