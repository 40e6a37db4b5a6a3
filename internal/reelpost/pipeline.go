package reelpost

import (
	"context"
	"errors"
	"fmt"

	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultStagingDir is created in the working directory for each URL.
const DefaultStagingDir = "videos"

// Pipeline moves reels from a Source to one or more Publishers, one URL at a
// time. URLs share a single staging directory, so Run must not be called
// concurrently on the same Pipeline.
type Pipeline struct {
	Source     Source
	Publishers []Publisher
	Staging    StagingArea
	// DryRun stops after validation and publishes nothing.
	DryRun bool
}

// Run processes every URL in order. A failing URL never stops the batch.
func (p *Pipeline) Run(ctx context.Context, urls []string) []Result {
	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		res := p.Process(ctx, u)
		if res.Err != nil {
			logutil.Errorf("error processing %s: %v", u, res.Err)
		}
		results = append(results, res)
	}
	return results
}

// Process runs the full pipeline for one URL. A staging area created by the
// run is removed before Process returns, whatever the outcome. A directory
// that already existed is left alone and fails the run.
func (p *Pipeline) Process(ctx context.Context, rawURL string) (res Result) {
	res = Result{RunID: uuid.NewString(), URL: rawURL, State: StateStart, Reached: StateStart}
	logger := logutil.With("run", res.RunID, "url", rawURL)
	logger.Info("processing")

	area := p.staging()
	var owned bool
	defer func() {
		if !owned {
			return
		}
		if err := area.Teardown(); err != nil {
			res.Err = errors.Join(res.Err, err)
			res.State = StateFailed
		}
		if res.State == StateDone {
			logger.Info("completed", "shortcode", res.Shortcode, "targets", res.Targets)
		}
	}()

	if err := p.process(ctx, &res, area, &owned, logger); err != nil {
		res.State = StateFailed
		res.Err = err
		return res
	}
	res.State = StateDone
	return res
}

func (p *Pipeline) process(ctx context.Context, res *Result, area StagingArea, owned *bool, logger *log.Logger) error {
	advance := func(s State) {
		res.Reached = s
		logger.Debug("state", "state", s)
	}

	code, err := ParseShortcode(res.URL)
	if err != nil {
		return err
	}
	res.Shortcode = code
	advance(StateParsed)

	if err := area.Create(); err != nil {
		return err
	}
	*owned = true

	if err := Acquire(ctx, p.Source, code, area); err != nil {
		return err
	}
	advance(StateAcquired)

	inv, err := area.Sanitize()
	if err != nil {
		return err
	}
	advance(StateSanitized)

	files, err := inv.Validate()
	if err != nil {
		return err
	}
	advance(StateValidated)

	title, err := ReadCaption(files.Caption)
	if err != nil {
		return err
	}

	if p.DryRun {
		for _, pub := range p.Publishers {
			logger.Info("[dry-run] would publish", "target", pub.Name(), "media", files.Media, "title", title)
		}
		return nil
	}

	if len(p.Publishers) == 0 {
		return ValidationError{Provider: "pipeline", Reason: "no publishers configured"}
	}

	uploads := make([]Upload, len(p.Publishers))
	uploaded := make([]bool, len(p.Publishers))
	var errs []error
	for i, pub := range p.Publishers {
		logger.Debug("uploading", "target", pub.Name(), "media", files.Media)
		up, err := pub.Upload(ctx, files.Media)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
			continue
		}
		uploads[i], uploaded[i] = up, true
	}
	if len(errs) == len(p.Publishers) {
		return errors.Join(errs...)
	}
	advance(StateUploaded)

	for i, pub := range p.Publishers {
		if !uploaded[i] {
			continue
		}
		if err := pub.Post(ctx, uploads[i], title); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
			continue
		}
		res.Targets = append(res.Targets, pub.Name())
	}
	if len(res.Targets) > 0 {
		advance(StatePosted)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) staging() StagingArea {
	if p.Staging.Dir == "" {
		return StagingArea{Dir: DefaultStagingDir}
	}
	return p.Staging
}
