package socialverse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	"github.com/go-playground/validator/v10"
)

const (
	envToken = "FLIC_TOKEN"

	providerName = "socialverse"
	tokenHeader  = "Flic-Token"

	DefaultBaseURL    = "https://api.socialverseapp.com"
	DefaultCategoryID = 69

	grantPath = "/posts/generate-upload-url"
	postsPath = "/posts"

	// maxErrorBody caps how much of a rejected response is kept.
	maxErrorBody = 4 << 10
)

// Config carries everything the client needs; nothing is read from the environment.
type Config struct {
	Token      string
	BaseURL    string
	CategoryID int
	HTTPClient *http.Client
}

// UploadGrant is a one-shot destination for a single video transfer.
type UploadGrant struct {
	URL  string `json:"url" validate:"required,url"`
	Hash string `json:"hash" validate:"required"`
}

type postRecord struct {
	Title             string `json:"title"`
	Hash              string `json:"hash"`
	AvailableInPublic bool   `json:"is_available_in_public_feed"`
	CategoryID        int    `json:"category_id"`
}

// Client talks to the Socialverse (Flic) API.
type Client struct {
	http       *http.Client
	token      string
	baseURL    string
	categoryID int
	validate   *validator.Validate
}

// New constructs a Socialverse publisher. An empty token is a startup error.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, reelpost.MissingEnvError{Provider: providerName, Variables: []string{envToken}}
	}

	c := &Client{
		http:       cfg.HTTPClient,
		token:      token,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		categoryID: cfg.CategoryID,
		validate:   validator.New(),
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.categoryID <= 0 {
		c.categoryID = DefaultCategoryID
	}
	return c, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Upload obtains a grant and transfers the video with it.
func (c *Client) Upload(ctx context.Context, mediaPath string) (reelpost.Upload, error) {
	grant, err := c.RequestUploadGrant(ctx)
	if err != nil {
		return reelpost.Upload{}, err
	}
	if err := c.TransferArtifact(ctx, grant, mediaPath); err != nil {
		return reelpost.Upload{}, err
	}
	return reelpost.Upload{Target: providerName, ID: grant.Hash}, nil
}

// Post creates the post record for a finished upload in the default category.
func (c *Client) Post(ctx context.Context, upload reelpost.Upload, title string) error {
	return c.CreatePost(ctx, upload.ID, title, c.categoryID)
}

// RequestUploadGrant asks the API for a pre-signed upload URL and the hash
// the video will be known by.
func (c *Client) RequestUploadGrant(ctx context.Context) (UploadGrant, error) {
	req, err := c.newAPIRequest(ctx, http.MethodGet, grantPath, nil)
	if err != nil {
		return UploadGrant{}, publishErr(reelpost.StageGrant, err)
	}

	logutil.Debugf("requesting upload grant: %s", req.URL)
	body, status, err := c.do(req, reelpost.StageGrant)
	if err != nil {
		return UploadGrant{}, err
	}

	var grant UploadGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return UploadGrant{}, reelpost.PublishError{
			Target: providerName, Stage: reelpost.StageGrant, Status: status, Body: string(body),
			Err: fmt.Errorf("decode grant: %w", err),
		}
	}
	if err := c.validate.Struct(grant); err != nil {
		return UploadGrant{}, reelpost.PublishError{
			Target: providerName, Stage: reelpost.StageGrant, Status: status, Body: string(body),
			Err: fmt.Errorf("incomplete grant: %w", err),
		}
	}
	logutil.Debugf("upload grant issued: hash=%s", grant.Hash)
	return grant, nil
}

// TransferArtifact PUTs the file at path to the grant's URL. The body is
// streamed with an exact Content-Length; there is no resumable upload.
func (c *Client) TransferArtifact(ctx context.Context, grant UploadGrant, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return publishErr(reelpost.StageTransfer, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q not found", path)})
		}
		return publishErr(reelpost.StageTransfer, fmt.Errorf("open video: %w", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return publishErr(reelpost.StageTransfer, fmt.Errorf("stat video: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.URL, file)
	if err != nil {
		return publishErr(reelpost.StageTransfer, err)
	}
	req.ContentLength = info.Size()
	if info.Size() == 0 {
		req.Body = http.NoBody
	}

	logutil.Debugf("transferring video: path=%s bytes=%d", path, info.Size())
	if _, _, err := c.do(req, reelpost.StageTransfer); err != nil {
		return err
	}
	return nil
}

// CreatePost registers a private post for an uploaded video.
func (c *Client) CreatePost(ctx context.Context, hash, title string, categoryID int) error {
	payload, err := json.Marshal(postRecord{
		Title:             title,
		Hash:              hash,
		AvailableInPublic: false,
		CategoryID:        categoryID,
	})
	if err != nil {
		return publishErr(reelpost.StagePost, fmt.Errorf("encode post: %w", err))
	}

	req, err := c.newAPIRequest(ctx, http.MethodPost, postsPath, bytes.NewReader(payload))
	if err != nil {
		return publishErr(reelpost.StagePost, err)
	}

	logutil.Debugf("creating post: hash=%s category=%d", hash, categoryID)
	if _, _, err := c.do(req, reelpost.StagePost); err != nil {
		return err
	}
	return nil
}

func (c *Client) newAPIRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and returns the body and status of a 2xx response. Anything
// else becomes a PublishError for stage.
func (c *Client) do(req *http.Request, stage reelpost.Stage) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, publishErr(stage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, reelpost.PublishError{Target: providerName, Stage: stage, Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, reelpost.PublishError{Target: providerName, Stage: stage, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func publishErr(stage reelpost.Stage, err error) error {
	return reelpost.PublishError{Target: providerName, Stage: stage, Err: err}
}
