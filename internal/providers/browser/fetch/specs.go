package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/webmodder/internal/providers/http/client"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Spec declares one provider in priority order. Adding or removing a relay is
// a configuration change.
type Spec struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" toml:"kind" json:"kind"`
	Endpoint string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

type specFile struct {
	Providers []Spec `yaml:"providers" toml:"providers"`
}

// DefaultSpecs returns the built-in relay chain: JSON envelope relay first,
// raw passthrough relay second.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "allorigins", Kind: KindJSON, Endpoint: "https://api.allorigins.win/get?url={url}"},
		{Name: "corsproxy", Kind: KindRaw, Endpoint: "https://corsproxy.io/?url={url}"},
	}
}

// Validate checks a single spec.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("provider name is required")
	}
	switch s.Kind {
	case KindJSON, KindRaw:
		if !strings.HasPrefix(s.Endpoint, "http://") && !strings.HasPrefix(s.Endpoint, "https://") {
			return fmt.Errorf("provider %q: endpoint must be an http(s) URL template", s.Name)
		}
	case KindDirect:
	default:
		return fmt.Errorf("provider %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// LoadSpecs reads a provider list from a YAML (.yaml, .yml) or TOML (.toml) file.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var file specFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported providers file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}

	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s: %w", path, ErrNoProviders)
	}
	seen := make(map[string]bool, len(file.Providers))
	for _, s := range file.Providers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("provider %q declared twice", s.Name)
		}
		seen[s.Name] = true
	}
	return file.Providers, nil
}

// Build instantiates providers from specs, sharing one HTTP client.
func Build(specs []Spec, c *client.Client) ([]Provider, error) {
	providers := make([]Provider, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		switch s.Kind {
		case KindJSON:
			providers = append(providers, NewJSONRelay(s.Name, s.Endpoint, c))
		case KindRaw:
			providers = append(providers, NewRawRelay(s.Name, s.Endpoint, c))
		case KindDirect:
			providers = append(providers, NewDirect(s.Name, c))
		}
	}
	return providers, nil
}
