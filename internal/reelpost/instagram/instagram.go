package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	"golang.org/x/time/rate"
)

const (
	providerName = "instagram"

	DefaultBaseURL   = "https://www.instagram.com"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

	// Files are named after the post time, like Instaloader does.
	stemLayout = "2006-01-02_15-04-05_UTC"
)

var (
	// ErrNotFound is returned for deleted posts and unknown shortcodes.
	ErrNotFound = errors.New("post not found")
	// ErrNoVideo is returned when the page carries no video, usually because
	// the post is private or not a reel.
	ErrNoVideo = errors.New("post has no video")

	titleRe = regexp.MustCompile(`(?s)^(.+?) on Instagram: "(.*)"\s*$`)
)

// StatusError is an unexpected HTTP status from Instagram or its CDN.
type StatusError struct {
	URL    string
	Status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// Config controls how the reel page and media are fetched.
type Config struct {
	BaseURL   string
	SessionID string
	UserAgent string
	// MinInterval spaces out reel page requests; zero disables the limit.
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// Client resolves reels from their public page and downloads them.
type Client struct {
	http      *http.Client
	baseURL   *url.URL
	sessionID string
	userAgent string
	pages     *rate.Limiter
}

// New constructs an Instagram source.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, reelpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("invalid base URL %q", cfg.BaseURL)}
	}

	c := &Client{
		http:      cfg.HTTPClient,
		baseURL:   base,
		sessionID: strings.TrimSpace(cfg.SessionID),
		userAgent: cfg.UserAgent,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if cfg.MinInterval > 0 {
		c.pages = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return c, nil
}

// Name identifies the source.
func (c *Client) Name() string { return providerName }

// Resolve loads the reel page and reads its OpenGraph tags.
func (c *Client) Resolve(ctx context.Context, code reelpost.Shortcode) (reelpost.PostMetadata, error) {
	pageURL := c.baseURL.JoinPath("reel", code.String()).String() + "/"
	if c.pages != nil {
		if err := c.pages.Wait(ctx); err != nil {
			return reelpost.PostMetadata{}, err
		}
	}
	logutil.Debugf("resolving reel: shortcode=%s url=%s", code, pageURL)

	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return reelpost.PostMetadata{}, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return reelpost.PostMetadata{}, fmt.Errorf("parse reel page: %w", err)
	}
	return c.parsePage(code, doc)
}

func (c *Client) parsePage(code reelpost.Shortcode, doc *goquery.Document) (reelpost.PostMetadata, error) {
	meta := reelpost.PostMetadata{Shortcode: code}

	video := firstMeta(doc, "og:video:secure_url", "og:video", "og:video:url")
	if video == "" {
		return meta, ErrNoVideo
	}
	meta.VideoURL = c.absolute(video)
	if thumb := firstMeta(doc, "og:image"); thumb != "" {
		meta.ThumbnailURL = c.absolute(thumb)
	}

	title := firstMeta(doc, "og:title")
	if m := titleRe.FindStringSubmatch(title); m != nil {
		meta.Owner = strings.TrimSpace(m[1])
		meta.Caption = m[2]
	} else {
		meta.Caption = firstMeta(doc, "og:description")
	}

	published := firstMeta(doc, "article:published_time", "video:release_date")
	if published == "" {
		published, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	if published != "" {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			meta.TakenAt = ts.UTC()
		}
	}
	return meta, nil
}

// Fetch writes the video, caption, thumbnail and a JSON dump of meta into dir.
func (c *Client) Fetch(ctx context.Context, meta reelpost.PostMetadata, dir string) ([]string, error) {
	stem := meta.Shortcode.String()
	if !meta.TakenAt.IsZero() {
		stem = meta.TakenAt.UTC().Format(stemLayout)
	}
	base := filepath.Join(dir, stem)

	var written []string
	if err := c.download(ctx, meta.VideoURL, base+reelpost.MediaExt); err != nil {
		return written, fmt.Errorf("download video: %w", err)
	}
	written = append(written, base+reelpost.MediaExt)

	if err := os.WriteFile(base+reelpost.CaptionExt, []byte(meta.Caption), 0o644); err != nil {
		return written, fmt.Errorf("write caption: %w", err)
	}
	written = append(written, base+reelpost.CaptionExt)

	if meta.ThumbnailURL != "" {
		if err := c.download(ctx, meta.ThumbnailURL, base+".jpg"); err != nil {
			logutil.Warnf("skipping thumbnail for %s: %v", meta.Shortcode, err)
		} else {
			written = append(written, base+".jpg")
		}
	}

	dump, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return written, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(base+".json", dump, 0o644); err != nil {
		return written, fmt.Errorf("write metadata: %w", err)
	}
	written = append(written, base+".json")

	logutil.Debugf("fetched reel: shortcode=%s files=%d", meta.Shortcode, len(written))
	return written, nil
}

func (c *Client) download(ctx context.Context, src, dst string) error {
	resp, err := c.get(ctx, src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.sessionID != "" && c.sameHost(req.URL) {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.sessionID})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", target, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, StatusError{URL: target, Status: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) sameHost(u *url.URL) bool {
	return strings.EqualFold(u.Host, c.baseURL.Host)
}

func (c *Client) absolute(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

func firstMeta(doc *goquery.Document, properties ...string) string {
	for _, prop := range properties {
		sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, prop, prop)).First()
		if v, ok := sel.Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
