package reelpost

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// MalformedURLError is returned when no shortcode can be isolated from a URL.
type MalformedURLError struct {
	URL    string
	Reason string
}

func (e MalformedURLError) Error() string {
	return fmt.Sprintf("malformed reel URL %q: %s", e.URL, e.Reason)
}

// AcquisitionError wraps a source failure to resolve or download a post.
type AcquisitionError struct {
	Shortcode Shortcode
	Err       error
}

func (e AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Shortcode, e.Err)
}

func (e AcquisitionError) Unwrap() error { return e.Err }

// IOFailureError is a local filesystem failure inside the staging area.
type IOFailureError struct {
	Op   string
	Path string
	Err  error
}

func (e IOFailureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e IOFailureError) Unwrap() error { return e.Err }

// ArtifactKind names the two artifact types a staging area must hold.
type ArtifactKind string

const (
	ArtifactMedia   ArtifactKind = "media"
	ArtifactCaption ArtifactKind = "caption"
)

// MissingArtifactError means sanitization left no file of the given kind.
type MissingArtifactError struct {
	Kind ArtifactKind
	Dir  string
}

func (e MissingArtifactError) Error() string {
	return fmt.Sprintf("no %s file found in %q", e.Kind, e.Dir)
}

// AmbiguousArtifactError means more than one candidate of a kind remained.
type AmbiguousArtifactError struct {
	Kind  ArtifactKind
	Paths []string
}

func (e AmbiguousArtifactError) Error() string {
	return fmt.Sprintf("%d %s files found, expected one: %s", len(e.Paths), e.Kind, strings.Join(e.Paths, ", "))
}

// Stage identifies which publishing round trip failed.
type Stage string

const (
	StageGrant    Stage = "grant"
	StageTransfer Stage = "transfer"
	StagePost     Stage = "post"
)

// PublishError is returned when a destination rejects a stage. Status is
// zero when the request never produced a response.
type PublishError struct {
	Target string
	Stage  Stage
	Status int
	Body   string
	Err    error
}

func (e PublishError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Target, e.Stage)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status=%d", e.Status)
		if body := snippet(e.Body, 512); body != "" {
			fmt.Fprintf(&b, " body=%s", body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e PublishError) Unwrap() error { return e.Err }

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
