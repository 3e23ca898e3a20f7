package deploy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Service kinds.
const (
	KindRun      = "run"
	KindFunction = "function"
	KindHosting  = "hosting"
)

// Manifest is the deploy.yml file describing everything this repo ships.
type Manifest struct {
	Project  string    `yaml:"project"`
	Region   string    `yaml:"region"`
	Services []Service `yaml:"services"`
}

// Service is one deployable unit.
type Service struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Region string `yaml:"region,omitempty"` // overrides Manifest.Region

	// Cloud Run / Functions.
	Image   string            `yaml:"image,omitempty"`
	Source  string            `yaml:"source,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Secrets map[string]string `yaml:"secrets,omitempty"` // ENV_NAME -> secret:version

	// Functions only.
	Runtime    string `yaml:"runtime,omitempty"`
	Entrypoint string `yaml:"entrypoint,omitempty"`
	Trigger    string `yaml:"trigger,omitempty"` // "http" (default) or a topic name

	// Run only.
	AllowUnauthenticated bool `yaml:"allow_unauthenticated,omitempty"`

	// Hosting only.
	Site string `yaml:"site,omitempty"`
}

// LoadManifest reads and validates deploy.yml. Unknown fields are
// rejected so typos fail loudly instead of deploying half-configured.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	defer f.Close()

	var m Manifest
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("deploy: parsing %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("deploy: %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Project == "" {
		return fmt.Errorf("project is required")
	}
	if len(m.Services) == 0 {
		return fmt.Errorf("no services defined")
	}
	seen := make(map[string]bool)
	for i := range m.Services {
		s := &m.Services[i]
		if s.Name == "" {
			return fmt.Errorf("service %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate service %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Kind {
		case KindRun:
			if s.Image == "" {
				return fmt.Errorf("service %q: run services need an image", s.Name)
			}
			if s.regionOr(m.Region) == "" {
				return fmt.Errorf("service %q: no region configured", s.Name)
			}
		case KindFunction:
			if s.Runtime == "" || s.Source == "" {
				return fmt.Errorf("service %q: functions need runtime and source", s.Name)
			}
			if s.regionOr(m.Region) == "" {
				return fmt.Errorf("service %q: no region configured", s.Name)
			}
		case KindHosting:
			// Site is optional; firebase falls back to the default site.
		default:
			return fmt.Errorf("service %q: unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// Find returns the named service.
func (m *Manifest) Find(name string) (*Service, error) {
	for i := range m.Services {
		if m.Services[i].Name == name {
			return &m.Services[i], nil
		}
	}
	return nil, fmt.Errorf("deploy: unknown service %q", name)
}

func (s *Service) regionOr(fallback string) string {
	if s.Region != "" {
		return s.Region
	}
	return fallback
}

// sortedKV renders a map as sorted k=v pairs for stable CLI flags.
func sortedKV(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
