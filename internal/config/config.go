// Package config loads reelpost settings from the environment and an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// DefaultEnvFile is loaded when present; a missing file is not an error.
const DefaultEnvFile = ".env"

// Config holds every environment-driven setting. Credentials for optional
// targets are validated by the target that needs them, not here.
type Config struct {
	Socialverse Socialverse
	Instagram   Instagram
	Mastodon    Mastodon
	Bluesky     Bluesky
	Twitter     Twitter

	StagingDir  string        `env:"REELPOST_STAGING_DIR" env-default:"videos" env-description:"Staging directory created and removed per URL" validate:"required"`
	HTTPTimeout time.Duration `env:"REELPOST_HTTP_TIMEOUT" env-default:"0s" env-description:"Timeout for each HTTP request (0 disables it)" validate:"gte=0"`
}

// Socialverse configures the destination platform.
type Socialverse struct {
	Token      string `env:"FLIC_TOKEN" env-description:"Socialverse (Flic) API token"`
	BaseURL    string `env:"REELPOST_SOCIALVERSE_URL" env-default:"https://api.socialverseapp.com" env-description:"Socialverse API base URL" validate:"required,url"`
	CategoryID int    `env:"REELPOST_CATEGORY_ID" env-default:"69" env-description:"Category assigned to created posts" validate:"gt=0"`
}

// Instagram configures the reel source.
type Instagram struct {
	BaseURL     string        `env:"REELPOST_INSTAGRAM_URL" env-default:"https://www.instagram.com" env-description:"Instagram base URL" validate:"required,url"`
	SessionID   string        `env:"REELPOST_INSTAGRAM_SESSIONID" env-description:"Optional Instagram sessionid cookie"`
	UserAgent   string        `env:"REELPOST_INSTAGRAM_USER_AGENT" env-default:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36" env-description:"User agent sent to Instagram"`
	MinInterval time.Duration `env:"REELPOST_INSTAGRAM_MIN_INTERVAL" env-default:"3s" env-description:"Minimum delay between reel page requests" validate:"gte=0"`
}

// Mastodon holds the optional mastodon target credentials.
type Mastodon struct {
	Server       string `env:"REELPOST_MASTODON_SERVER" env-description:"Mastodon server URL" validate:"omitempty,url"`
	AccessToken  string `env:"REELPOST_MASTODON_ACCESS_TOKEN" env-description:"Mastodon access token"`
	ClientID     string `env:"REELPOST_MASTODON_CLIENT_ID" env-description:"Mastodon client id"`
	ClientSecret string `env:"REELPOST_MASTODON_CLIENT_SECRET" env-description:"Mastodon client secret"`
}

// Bluesky holds the optional bluesky target credentials.
type Bluesky struct {
	Handle      string `env:"REELPOST_BLUESKY_HANDLE" env-description:"Bluesky handle"`
	AppPassword string `env:"REELPOST_BLUESKY_APP_PASSWORD" env-description:"Bluesky app password"`
	PDSURL      string `env:"REELPOST_BLUESKY_PDS_URL" env-default:"https://bsky.social" env-description:"Bluesky PDS URL" validate:"omitempty,url"`
}

// Twitter holds the optional X (Twitter) target credentials.
type Twitter struct {
	APIKey       string `env:"REELPOST_TWITTER_CONSUMER_KEY" env-description:"X consumer key"`
	APISecret    string `env:"REELPOST_TWITTER_CONSUMER_SECRET" env-description:"X consumer secret"`
	AccessToken  string `env:"REELPOST_TWITTER_ACCESS_TOKEN" env-description:"X access token"`
	AccessSecret string `env:"REELPOST_TWITTER_ACCESS_TOKEN_SECRET" env-description:"X access token secret"`
	Debug        bool   `env:"REELPOST_TWITTER_DEBUG" env-description:"Enable gotwi debug output"`
}

var validate = validator.New()

// Load reads envFile (if it exists) into the process environment and then
// binds the environment onto a Config. Variables already set in the
// environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	path, err := ExpandPath(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	cfg.Socialverse.Token = strings.TrimSpace(cfg.Socialverse.Token)
	cfg.Socialverse.BaseURL = strings.TrimRight(cfg.Socialverse.BaseURL, "/")
	cfg.Instagram.BaseURL = strings.TrimRight(cfg.Instagram.BaseURL, "/")

	cfg.StagingDir, err = ExpandPath(cfg.StagingDir)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field formats; it does not require optional credentials.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Describe renders the environment variable reference for help output.
func Describe() string {
	header := "Environment variables:"
	text, err := cleanenv.GetDescription(&Config{}, &header)
	if err != nil {
		return ""
	}
	return text
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return expanded, nil
}
