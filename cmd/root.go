/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/blacktop/reelpost/internal/config"
	"github.com/blacktop/reelpost/internal/logutil"
	"github.com/blacktop/reelpost/internal/reelpost"
	"github.com/blacktop/reelpost/internal/reelpost/bluesky"
	"github.com/blacktop/reelpost/internal/reelpost/instagram"
	"github.com/blacktop/reelpost/internal/reelpost/mastodon"
	"github.com/blacktop/reelpost/internal/reelpost/socialverse"
	"github.com/blacktop/reelpost/internal/reelpost/twitter"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	targetsFlag []string
	categoryID  int
	stagingDir  string
	envFile     string
	dryRun      bool
	verbose     bool
)

const defaultTarget = "socialverse"

var supportedTargets = map[string]struct{}{
	"bluesky":     {},
	"mastodon":    {},
	"socialverse": {},
	"twitter":     {},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context so the
// URL in flight still has its staging directory removed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reelpost [flags] <url>...",
		Short: "Re-publish Instagram reels to Socialverse",
		Long: "reelpost downloads each Instagram reel, keeps only its video and caption, " +
			"and re-publishes it as a private Socialverse post titled with the caption. " +
			"URLs are processed one at a time and a failing URL never stops the batch.\n\n" +
			config.Describe(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
		Example: `  reelpost https://www.instagram.com/reel/C9xYz12/
  reelpost --category 12 https://www.instagram.com/reel/A/ https://www.instagram.com/reels/B/
  reelpost --target socialverse --target mastodon --dry-run https://www.instagram.com/reel/A/`,
	}

	cmd.Flags().StringSliceVar(&targetsFlag, "target", []string{defaultTarget}, "Targets to publish to (socialverse, mastodon, bluesky, twitter, or all)")
	cmd.Flags().IntVar(&categoryID, "category", 0, "Socialverse category for created posts (overrides REELPOST_CATEGORY_ID)")
	cmd.Flags().StringVar(&stagingDir, "staging-dir", "", "Staging directory (overrides REELPOST_STAGING_DIR)")
	cmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Dotenv file to load before reading the environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Download and validate without publishing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	cmd.Flags().SortFlags = false

	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 0 {
		_ = cmd.Usage()
		return errors.New("at least one reel URL is required")
	}
	logutil.SetVerbose(verbose)

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("category") {
		if categoryID <= 0 {
			return fmt.Errorf("--category must be positive, got %d", categoryID)
		}
		cfg.Socialverse.CategoryID = categoryID
	}
	if stagingDir != "" {
		if cfg.StagingDir, err = config.ExpandPath(stagingDir); err != nil {
			return err
		}
	}

	resolvedTargets, err := normalizeTargets(targetsFlag)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	source, err := instagram.New(instagram.Config{
		BaseURL:     cfg.Instagram.BaseURL,
		SessionID:   cfg.Instagram.SessionID,
		UserAgent:   cfg.Instagram.UserAgent,
		MinInterval: cfg.Instagram.MinInterval,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return err
	}

	publishers, err := buildPublishers(ctx, cfg, httpClient, resolvedTargets)
	if err != nil {
		return err
	}

	pipeline := &reelpost.Pipeline{
		Source:     source,
		Publishers: publishers,
		Staging:    reelpost.StagingArea{Dir: cfg.StagingDir},
		DryRun:     dryRun,
	}
	results := pipeline.Run(ctx, args)
	printSummary(cmd.OutOrStdout(), results, dryRun)

	// Per-URL failures are reported in the summary, not through the exit code.
	return nil
}

func normalizeTargets(values []string) ([]string, error) {
	if len(values) == 0 {
		return []string{defaultTarget}, nil
	}

	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return allTargets(), nil
		}
		if _, ok := supportedTargets[raw]; !ok {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	return sortedTargets(result), nil
}

func allTargets() []string {
	out := make([]string, 0, len(supportedTargets))
	for target := range supportedTargets {
		out = append(out, target)
	}
	return sortedTargets(out)
}

func sortedTargets(targets []string) []string {
	out := append([]string(nil), targets...)
	sort.Strings(out)
	return out
}

func buildPublishers(ctx context.Context, cfg config.Config, httpClient *http.Client, targets []string) ([]reelpost.Publisher, error) {
	constructors := map[string]func(context.Context) (reelpost.Publisher, error){
		"socialverse": func(ctx context.Context) (reelpost.Publisher, error) {
			c, err := socialverse.New(socialverse.Config{
				Token:      cfg.Socialverse.Token,
				BaseURL:    cfg.Socialverse.BaseURL,
				CategoryID: cfg.Socialverse.CategoryID,
				HTTPClient: httpClient,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		"mastodon": func(ctx context.Context) (reelpost.Publisher, error) {
			c, err := mastodon.New(ctx, mastodon.Config(cfg.Mastodon))
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		"bluesky": func(ctx context.Context) (reelpost.Publisher, error) {
			c, err := bluesky.New(ctx, bluesky.Config{
				Handle:      cfg.Bluesky.Handle,
				AppPassword: cfg.Bluesky.AppPassword,
				PDSURL:      cfg.Bluesky.PDSURL,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		"twitter": func(ctx context.Context) (reelpost.Publisher, error) {
			c, err := twitter.New(ctx, twitter.Config(cfg.Twitter))
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}

	publishers := make([]reelpost.Publisher, 0, len(targets))
	var errs []error
	for _, target := range targets {
		constructor, ok := constructors[target]
		if !ok {
			errs = append(errs, fmt.Errorf("target %q is not implemented", target))
			continue
		}
		publisher, err := constructor(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		publishers = append(publishers, publisher)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(publishers) == 0 {
		return nil, errors.New("no targets available")
	}
	return publishers, nil
}

func printSummary(out io.Writer, results []reelpost.Result, simulate bool) {
	ok := color.New(color.FgGreen, color.Bold)
	failed := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	var succeeded int
	for _, res := range results {
		if res.OK() {
			succeeded++
			ok.Fprint(out, "✔ ")
			if simulate {
				fmt.Fprintf(out, "%s validated (dry-run)\n", res.URL)
				continue
			}
			fmt.Fprintf(out, "%s posted to %s\n", res.URL, strings.Join(res.Targets, ", "))
			continue
		}
		failed.Fprint(out, "✘ ")
		fmt.Fprintf(out, "%s failed after %s: %v", res.URL, res.Reached, res.Err)
		if len(res.Targets) > 0 {
			fmt.Fprintf(out, " (posted to %s)", strings.Join(res.Targets, ", "))
		}
		fmt.Fprintln(out)
	}
	faint.Fprintf(out, "%d/%d URLs succeeded\n", succeeded, len(results))
}
