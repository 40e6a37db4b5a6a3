package reelpost

import (
	"context"
	"time"
)

// Shortcode identifies a reel on the source platform.
type Shortcode string

func (s Shortcode) String() string { return string(s) }

// PostMetadata is what a Source resolves a shortcode to.
type PostMetadata struct {
	Shortcode    Shortcode `json:"shortcode"`
	Owner        string    `json:"owner,omitempty"`
	Caption      string    `json:"caption"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	TakenAt      time.Time `json:"taken_at,omitempty"`
}

// Source resolves and downloads reels. File naming in the destination
// directory is up to the implementation.
type Source interface {
	Resolve(ctx context.Context, code Shortcode) (PostMetadata, error)
	Fetch(ctx context.Context, meta PostMetadata, dir string) ([]string, error)
}

// Upload is the handle a destination returns for a transferred video.
type Upload struct {
	Target string
	// ID is the content hash, media id or blob reference, depending on the target.
	ID string
	// Ref carries target-specific state from Upload to Post.
	Ref any
}

// Publisher abstracts a destination that can take a video and a title.
type Publisher interface {
	Name() string
	Upload(ctx context.Context, mediaPath string) (Upload, error)
	Post(ctx context.Context, upload Upload, title string) error
}

// State is a step of the per-URL pipeline.
type State int

const (
	StateStart State = iota
	StateParsed
	StateAcquired
	StateSanitized
	StateValidated
	StateUploaded
	StatePosted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateParsed:
		return "parsed"
	case StateAcquired:
		return "acquired"
	case StateSanitized:
		return "sanitized"
	case StateValidated:
		return "validated"
	case StateUploaded:
		return "uploaded"
	case StatePosted:
		return "posted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the outcome of one URL.
type Result struct {
	RunID     string
	URL       string
	Shortcode Shortcode
	// State is StateDone or StateFailed.
	State State
	// Reached is the last state entered before finishing.
	Reached State
	// Targets lists the destinations the reel was posted to.
	Targets []string
	Err     error
}

// OK reports whether the URL reached StateDone.
func (r Result) OK() bool { return r.State == StateDone }
