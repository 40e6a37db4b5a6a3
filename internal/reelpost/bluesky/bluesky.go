package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	envHandle      = "REELPOST_BLUESKY_HANDLE"
	envAppPassword = "REELPOST_BLUESKY_APP_PASSWORD"

	providerName   = "bluesky"
	requestTimeout = 30 * time.Second

	DefaultPDSURL = "https://bsky.social"
	// MaxPostRunes is the app.bsky.feed.post text limit in graphemes; runes
	// are a conservative stand-in.
	MaxPostRunes = 300
)

// Config holds the account used to publish.
type Config struct {
	Handle      string
	AppPassword string
	PDSURL      string
	HTTPClient  *http.Client
}

// Client implements reelpost.Publisher for Bluesky.
type Client struct {
	client *xrpc.Client
}

// New logs in and returns a Bluesky publisher.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.Handle = strings.TrimSpace(cfg.Handle)
	cfg.AppPassword = strings.TrimSpace(cfg.AppPassword)
	cfg.PDSURL = strings.TrimRight(strings.TrimSpace(cfg.PDSURL), "/")
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}

	var missing []string
	if cfg.Handle == "" {
		missing = append(missing, envHandle)
	}
	if cfg.AppPassword == "" {
		missing = append(missing, envAppPassword)
	}
	if len(missing) > 0 {
		return nil, reelpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	userAgent := "reelpost/1"
	xrpcClient := &xrpc.Client{
		Client:    httpClient,
		Host:      cfg.PDSURL,
		UserAgent: &userAgent,
	}

	session, err := atproto.ServerCreateSession(ctx, xrpcClient, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	xrpcClient.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}

	return &Client{client: xrpcClient}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Upload stores the video as a blob in the account's repo. The blob travels
// to Post in Upload.Ref.
func (c *Client) Upload(ctx context.Context, mediaPath string) (reelpost.Upload, error) {
	data, err := os.ReadFile(mediaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reelpost.Upload{}, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q not found", mediaPath)}
		}
		return reelpost.Upload{}, fmt.Errorf("read video: %w", err)
	}

	logutil.Debugf("uploading blob to bluesky: path=%s bytes=%d", mediaPath, len(data))
	resp, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(data))
	if err != nil {
		return reelpost.Upload{}, fmt.Errorf("upload blob: %w", err)
	}
	if resp.Blob == nil {
		return reelpost.Upload{}, fmt.Errorf("upload blob: empty response")
	}

	return reelpost.Upload{Target: providerName, ID: resp.Blob.Ref.String(), Ref: resp.Blob}, nil
}

// Post creates a feed post with the uploaded video embedded.
func (c *Client) Post(ctx context.Context, upload reelpost.Upload, title string) error {
	blob, ok := upload.Ref.(*util.LexBlob)
	if !ok || blob == nil {
		return reelpost.ValidationError{Provider: providerName, Reason: "upload carries no blob"}
	}

	text := reelpost.TruncateRunes(title, MaxPostRunes)
	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      text,
		Embed: &bsky.FeedPost_Embed{
			EmbedVideo: &bsky.EmbedVideo{
				Alt:   &text,
				Video: blob,
			},
		},
	}

	_, err := atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       c.client.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}

	return nil
}
