package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	envAPIKey       = "REELPOST_TWITTER_CONSUMER_KEY"
	envAPISecret    = "REELPOST_TWITTER_CONSUMER_SECRET"
	envAccessToken  = "REELPOST_TWITTER_ACCESS_TOKEN"
	envAccessSecret = "REELPOST_TWITTER_ACCESS_TOKEN_SECRET"

	providerName = "twitter"

	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
	statusEndpoint   = "https://api.x.com/2/media/upload"

	// MaxTweetRunes ignores X's weighted counting; CJK captions may still be rejected.
	MaxTweetRunes = 280
	maxAltRunes   = 1000
	segmentSize   = 4 << 20
)

var (
	httpTimeout = 60 * time.Second

	// minPollInterval applies when X omits check_after_secs.
	minPollInterval = time.Second
	maxStatusPolls  = 60

	stateSucceeded  = string(resources.ProcessingInfoStateSucceeded)
	stateInProgress = string(resources.ProcessingInfoStateInProgress)
	statePending    = string(resources.ProcessingInfoStatePending)
)

// processingInfo is the media processing state reported by FINALIZE and STATUS.
type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Config captures the credentials required for OAuth 1.0a user-context requests.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	Debug        bool
}

// Client implements reelpost.Publisher for X (Twitter).
type Client struct {
	api *gotwi.Client
	// status reports media processing state; it is replaced in tests.
	status func(ctx context.Context, mediaID string) (processingInfo, error)
}

// New constructs a Twitter publisher using gotwi and OAuth 1.0a credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg, err := checkConfig(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: httpTimeout}
	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           httpClient,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                cfg.Debug || logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}

	if !client.IsReady() {
		return nil, fmt.Errorf("twitter client not ready")
	}

	c := &Client{api: client}
	c.status = c.fetchStatus
	return c, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Upload sends the video through the chunked media endpoint and polls the
// processing status until X reports success or failure.
func (c *Client) Upload(ctx context.Context, mediaPath string) (reelpost.Upload, error) {
	data, err := os.ReadFile(mediaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return reelpost.Upload{}, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q not found", mediaPath)}
		}
		return reelpost.Upload{}, fmt.Errorf("read video: %w", err)
	}
	if len(data) == 0 {
		return reelpost.Upload{}, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q is empty", mediaPath)}
	}

	logutil.Debugf("initialize upload: media_type=%s bytes=%d", uploadtypes.MediaTypeMP4, len(data))
	initRes, err := upload.Initialize(ctx, c.api, &uploadtypes.InitializeInput{
		MediaType:     uploadtypes.MediaTypeMP4,
		TotalBytes:    len(data),
		MediaCategory: uploadtypes.MediaCategoryTweetVideo,
	})
	if err != nil {
		return reelpost.Upload{}, fmt.Errorf("initialize upload: %w", unwrapGotwiError(err))
	}
	if err := partialError(initRes.Errors); err != nil {
		return reelpost.Upload{}, fmt.Errorf("initialize upload: %w", err)
	}

	mediaID := initRes.Data.MediaID
	logutil.Debugf("initialize complete: media_id=%s", mediaID)

	for i, chunk := range segments(data, segmentSize) {
		appendIn := &uploadtypes.AppendInput{
			MediaID:      mediaID,
			Media:        bytes.NewReader(chunk),
			SegmentIndex: i,
		}
		appendIn.GenerateBoundary()

		logutil.Debugf("append upload: media_id=%s segment=%d bytes=%d", mediaID, i, len(chunk))
		appendRes, err := upload.Append(ctx, c.api, appendIn)
		if err != nil {
			return reelpost.Upload{}, fmt.Errorf("append upload: %w", unwrapGotwiError(err))
		}
		if err := partialError(appendRes.Errors); err != nil {
			return reelpost.Upload{}, fmt.Errorf("append upload: %w", err)
		}
	}

	finalizeRes, err := upload.Finalize(ctx, c.api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return reelpost.Upload{}, fmt.Errorf("finalize upload: %w", unwrapGotwiError(err))
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return reelpost.Upload{}, fmt.Errorf("finalize upload: %w", err)
	}

	info := processingInfo{
		State:          string(finalizeRes.Data.ProcessingInfo.State),
		CheckAfterSecs: int(finalizeRes.Data.ProcessingInfo.CheckAfterSecs),
	}
	logutil.Debugf("finalize state=%s media_id=%s", info.State, mediaID)
	if err := c.waitForProcessing(ctx, mediaID, info); err != nil {
		return reelpost.Upload{}, err
	}

	return reelpost.Upload{Target: providerName, ID: mediaID}, nil
}

// Post tweets the caption with the uploaded video attached.
func (c *Client) Post(ctx context.Context, up reelpost.Upload, title string) error {
	if alt := strings.TrimSpace(title); alt != "" {
		if err := c.setAltText(ctx, up.ID, reelpost.TruncateRunes(alt, maxAltRunes)); err != nil {
			logutil.Warnf("%v", err)
		}
	}

	input := &managetweettypes.CreateInput{
		Text:  gotwi.String(reelpost.TruncateRunes(title, MaxTweetRunes)),
		Media: &managetweettypes.CreateInputMedia{MediaIDs: []string{up.ID}},
	}

	logutil.Debugf("posting tweet: media_id=%s", up.ID)
	if _, err := managetweet.Create(ctx, c.api, input); err != nil {
		return fmt.Errorf("post tweet: %w", unwrapGotwiError(err))
	}
	logutil.Debugf("tweet posted successfully")
	return nil
}

// waitForProcessing polls STATUS until the media is usable in a tweet.
func (c *Client) waitForProcessing(ctx context.Context, mediaID string, info processingInfo) error {
	for polls := 0; ; polls++ {
		switch info.State {
		case "", stateSucceeded:
			return nil
		case stateInProgress, statePending:
		default:
			if info.Error != nil && info.Error.Message != "" {
				return fmt.Errorf("media processing failed: state=%s: %s", info.State, info.Error.Message)
			}
			return fmt.Errorf("media processing failed: state=%s", info.State)
		}
		if polls == maxStatusPolls {
			return fmt.Errorf("media processing did not finish after %d status checks: media_id=%s", polls, mediaID)
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait < minPollInterval {
			wait = minPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		next, err := c.status(ctx, mediaID)
		if err != nil {
			return fmt.Errorf("media status: %w", err)
		}
		info = next
		logutil.Debugf("status state=%s media_id=%s", info.State, mediaID)
	}
}

func (c *Client) fetchStatus(ctx context.Context, mediaID string) (processingInfo, error) {
	res := &statusResponse{}
	if err := c.api.CallAPI(ctx, statusEndpoint, http.MethodGet, &statusParameters{mediaID: mediaID}, res); err != nil {
		return processingInfo{}, unwrapGotwiError(err)
	}
	return res.info(), nil
}

func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	params := &metadataParameters{
		mediaID: mediaID,
		altText: altText,
	}

	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")

	if err := c.api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", unwrapGotwiError(err))
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)
	return nil
}

func checkConfig(cfg Config) (Config, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.APISecret = strings.TrimSpace(cfg.APISecret)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.AccessSecret = strings.TrimSpace(cfg.AccessSecret)

	var missing []string
	if cfg.APIKey == "" {
		missing = append(missing, envAPIKey)
	}
	if cfg.APISecret == "" {
		missing = append(missing, envAPISecret)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}
	if cfg.AccessSecret == "" {
		missing = append(missing, envAccessSecret)
	}

	if len(missing) > 0 {
		return Config{}, reelpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	return cfg, nil
}

// segments splits data into chunks of at most size bytes.
func segments(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%s", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		return errors.New(summarizeGotwiError(gwErr))
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	if err == nil {
		return "unknown X API error"
	}

	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}

	return strings.Join(parts, "; ")
}

type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) {
	p.accessToken = token
}

func (p *metadataParameters) AccessToken() string {
	return p.accessToken
}

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string {
	return endpointBase
}

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string {
	return map[string]string{}
}

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }

type statusParameters struct {
	mediaID     string
	accessToken string
}

func (p *statusParameters) SetAccessToken(token string) {
	p.accessToken = token
}

func (p *statusParameters) AccessToken() string {
	return p.accessToken
}

func (p *statusParameters) ResolveEndpoint(endpointBase string) string {
	query := url.Values{}
	for k, v := range p.ParameterMap() {
		query.Set(k, v)
	}
	return endpointBase + "?" + query.Encode()
}

func (p *statusParameters) Body() (io.Reader, error) {
	return nil, nil
}

func (p *statusParameters) ParameterMap() map[string]string {
	return map[string]string{"command": "STATUS", "media_id": p.mediaID}
}

// statusResponse accepts both the v2 envelope and the flat v1.1 shape.
type statusResponse struct {
	Data struct {
		ProcessingInfo *processingInfo `json:"processing_info"`
	} `json:"data"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

func (r *statusResponse) info() processingInfo {
	switch {
	case r.Data.ProcessingInfo != nil:
		return *r.Data.ProcessingInfo
	case r.ProcessingInfo != nil:
		return *r.ProcessingInfo
	}
	return processingInfo{}
}

func (statusResponse) HasPartialError() bool { return false }
