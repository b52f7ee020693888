// Package targets loads the named endpoints probed by the perron CLI.
package targets

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Target is a named endpoint.
type Target struct {
	ID      string            `yaml:"id" json:"id"`
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Label returns the display name, falling back to the ID.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Defaults are client settings shared by every target in a file. Zero
// values leave the client defaults in place.
type Defaults struct {
	ConnectTimeout  time.Duration     `yaml:"connect_timeout"`
	ReadTimeout     time.Duration     `yaml:"read_timeout"`
	ReadTimeoutMode string            `yaml:"read_timeout_mode"`
	Timing          *bool             `yaml:"timing"`
	Headers         map[string]string `yaml:"headers"`
}

// File is the on-disk configuration format.
//
//	defaults:
//	  connect_timeout: 500ms
//	  read_timeout: 2s
//	targets:
//	  - id: api
//	    url: https://api.example.com/health
type File struct {
	Defaults Defaults `yaml:"defaults"`
	Targets  []Target `yaml:"targets"`
}

// ErrUnknownTarget is returned when a requested target or preset does not exist.
var ErrUnknownTarget = errors.New("unknown target")

// Load reads and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates configuration from YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every target has a unique ID and an absolute http(s) URL.
func (f *File) Validate() error {
	switch f.Defaults.ReadTimeoutMode {
	case "", "idle", "fixed":
	default:
		return fmt.Errorf("read_timeout_mode must be idle or fixed, got %q", f.Defaults.ReadTimeoutMode)
	}

	seen := make(map[string]bool, len(f.Targets))
	for i, t := range f.Targets {
		if t.ID == "" {
			return fmt.Errorf("target %d: missing id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("target %q: duplicate id", t.ID)
		}
		seen[t.ID] = true

		u, err := url.Parse(t.URL)
		if err != nil {
			return fmt.Errorf("target %q: %w", t.ID, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target %q: url must be absolute http or https, got %q", t.ID, t.URL)
		}
	}
	return nil
}

// Select returns the targets whose IDs are listed, in the order given. An
// empty ids list selects every target.
func Select(all []Target, ids []string) ([]Target, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]Target, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
		}
		out = append(out, t)
	}
	return out, nil
}

// Preset returns a built-in target list by name.
func Preset(name string) ([]Target, error) {
	switch name {
	case PresetAWS:
		return AWSRegions(), nil
	}
	return nil, fmt.Errorf("%w: preset %q", ErrUnknownTarget, name)
}
