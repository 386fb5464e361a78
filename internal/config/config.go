package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/therealityreport/trr-app-sub006/internal/progress"
)

// FileNames are the config files Load looks for, in order.
var FileNames = []string{"refresh.yml", "refresh.yaml", "refresh.toml"}

// Config holds service settings loaded from refresh.yml or refresh.toml.
type Config struct {
	BackendURL       string             `yaml:"backendURL,omitempty" toml:"backendURL"`
	RequestTimeoutMs int64              `yaml:"requestTimeoutMs,omitempty" toml:"requestTimeoutMs"`
	Listen           string             `yaml:"listen,omitempty" toml:"listen"`
	LogLevel         string             `yaml:"logLevel,omitempty" toml:"logLevel"`
	LogFormat        string             `yaml:"logFormat,omitempty" toml:"logFormat"`
	MaxLogLines      int                `yaml:"maxLogLines,omitempty" toml:"maxLogLines"`
	Profiles         map[string]Profile `yaml:"profiles,omitempty" toml:"profiles"`
}

// Profile is a named, ordered list of refresh phases.
type Profile struct {
	Label  string  `yaml:"label,omitempty" toml:"label"`
	Phases []Phase `yaml:"phases" toml:"phases"`
}

// Phase describes one backend call in a profile. Path may contain a
// {target} placeholder. Topic optionally pins the status-board row the
// phase reports to.
type Phase struct {
	ID        string `yaml:"id" toml:"id"`
	Label     string `yaml:"label,omitempty" toml:"label"`
	Method    string `yaml:"method,omitempty" toml:"method"`
	Path      string `yaml:"path" toml:"path"`
	TimeoutMs int64  `yaml:"timeoutMs,omitempty" toml:"timeoutMs"`
	Topic     string `yaml:"topic,omitempty" toml:"topic"`
}

// Timeout returns the phase budget.
func (p Phase) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	return slices.Sorted(maps.Keys(c.Profiles))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackendURL:       "http://localhost:8000/api/v1",
		RequestTimeoutMs: 300_000,
		Listen:           ":8080",
		LogLevel:         "info",
		LogFormat:        "console",
		MaxLogLines:      200,
		Profiles: map[string]Profile{
			"cast-member": {
				Label: "Refresh cast member",
				Phases: []Phase{
					{ID: "credits", Label: "Credits", Path: "/admin/people/{target}/refresh/credits", TimeoutMs: 120_000, Topic: "people"},
					{ID: "links", Label: "Links", Path: "/admin/people/{target}/refresh/links", TimeoutMs: 60_000, Topic: "people"},
					{ID: "bio", Label: "Bio", Path: "/admin/people/{target}/refresh/bio", TimeoutMs: 60_000, Topic: "people"},
					{ID: "photos", Label: "Photos", Path: "/admin/people/{target}/refresh/photos", TimeoutMs: 300_000, Topic: "media"},
				},
			},
			"show": {
				Label: "Refresh show",
				Phases: []Phase{
					{ID: "show_metadata", Label: "Show metadata", Path: "/admin/shows/{target}/refresh/metadata", TimeoutMs: 120_000},
					{ID: "season_episode_sync", Label: "Seasons and episodes", Path: "/admin/shows/{target}/refresh/seasons", TimeoutMs: 300_000},
					{ID: "cast_credits_sync", Label: "Cast credits", Path: "/admin/shows/{target}/refresh/cast", TimeoutMs: 300_000},
					{ID: "mirror_show_images", Label: "Show images", Path: "/admin/shows/{target}/refresh/images", TimeoutMs: 600_000},
				},
			},
		},
	}
}

// Load reads the first of FileNames found in dir over the defaults.
// Returns the defaults (not an error) if no config file exists.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return Default(), nil
}

// LoadFile reads path over the defaults, choosing the decoder by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BackendURL)
	if c.BackendURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backendURL %q is not an absolute URL", c.BackendURL))
	}
	if c.RequestTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("requestTimeoutMs must not be negative"))
	}

	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if len(p.Phases) == 0 {
			errs = append(errs, fmt.Errorf("profile %q has no phases", name))
		}
		seen := make(map[string]bool, len(p.Phases))
		for i, ph := range p.Phases {
			switch {
			case ph.ID == "":
				errs = append(errs, fmt.Errorf("profile %q phase %d has no id", name, i))
			case seen[ph.ID]:
				errs = append(errs, fmt.Errorf("profile %q has duplicate phase %q", name, ph.ID))
			}
			seen[ph.ID] = true
			if strings.TrimSpace(ph.Path) == "" {
				errs = append(errs, fmt.Errorf("profile %q phase %q has no path", name, ph.ID))
			}
			if ph.TimeoutMs < 0 {
				errs = append(errs, fmt.Errorf("profile %q phase %q has a negative timeout", name, ph.ID))
			}
			if ph.Topic != "" && !validTopic(ph.Topic) {
				errs = append(errs, fmt.Errorf("profile %q phase %q has unknown topic %q", name, ph.ID, ph.Topic))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validTopic(t string) bool {
	_, ok := progress.ParseTopic(t)
	return ok
}
