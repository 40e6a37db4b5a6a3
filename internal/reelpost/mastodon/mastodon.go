package mastodon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	envServer      = "REELPOST_MASTODON_SERVER"
	envAccessToken = "REELPOST_MASTODON_ACCESS_TOKEN"

	providerName   = "mastodon"
	requestTimeout = 30 * time.Second

	// MaxStatusRunes is the default status length on stock instances.
	MaxStatusRunes = 500
	visibility     = "private"
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Client re-posts reels as private toots with a video attachment.
type Client struct {
	client *mastodonapi.Client
}

// New constructs a Mastodon publisher.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.Server = strings.TrimSpace(cfg.Server)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)

	var missing []string
	if cfg.Server == "" {
		missing = append(missing, envServer)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}
	if len(missing) > 0 {
		return nil, reelpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	mastodonClient := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
	})
	mastodonClient.Timeout = requestTimeout

	return &Client{client: mastodonClient}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Upload attaches the video as media.
func (c *Client) Upload(ctx context.Context, mediaPath string) (reelpost.Upload, error) {
	file, err := os.Open(mediaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reelpost.Upload{}, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q not found", mediaPath)}
		}
		return reelpost.Upload{}, fmt.Errorf("open video: %w", err)
	}
	defer file.Close()

	logutil.Debugf("uploading media to mastodon: path=%s", mediaPath)
	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{File: file})
	if err != nil {
		return reelpost.Upload{}, fmt.Errorf("upload media: %w", err)
	}

	return reelpost.Upload{Target: providerName, ID: string(attachment.ID)}, nil
}

// Post publishes a private toot carrying the uploaded video.
func (c *Client) Post(ctx context.Context, upload reelpost.Upload, title string) error {
	_, err := c.client.PostStatus(ctx, &mastodonapi.Toot{
		Status:     reelpost.TruncateRunes(title, MaxStatusRunes),
		MediaIDs:   []mastodonapi.ID{mastodonapi.ID(upload.ID)},
		Visibility: visibility,
	})
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	return nil
}
