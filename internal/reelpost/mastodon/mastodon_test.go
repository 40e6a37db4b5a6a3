package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/blacktop/reelpost/internal/reelpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{Server: " "})

	var missing reelpost.MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{envServer, envAccessToken}, missing.Variables)
}

func TestUploadAndPost(t *testing.T) {
	var (
		mu     sync.Mutex
		status = map[string][]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/media"):
			json.NewEncoder(w).Encode(map[string]string{"id": "42", "type": "video"})
		case r.URL.Path == "/api/v1/statuses":
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			status = r.PostForm
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{Server: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)

	video := filepath.Join(t.TempDir(), "reel.mp4")
	require.NoError(t, os.WriteFile(video, []byte("mp4"), 0o644))

	up, err := c.Upload(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, "42", up.ID)

	long := strings.Repeat("a", MaxStatusRunes+20)
	require.NoError(t, c.Post(context.Background(), up, long))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "private", status.Get("visibility"))
	assert.Equal(t, []string{"42"}, status["media_ids[]"])
	assert.Len(t, []rune(status.Get("status")), MaxStatusRunes)
}

func TestUploadMissingVideo(t *testing.T) {
	c, err := New(context.Background(), Config{Server: "https://mastodon.example", AccessToken: "tok"})
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"))
	var valErr reelpost.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
