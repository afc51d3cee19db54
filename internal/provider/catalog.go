package provider

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	KindHTTP   = "http"
	KindStatic = "static"
)

// Catalog is the provider list read from PROVIDERS_FILE.
type Catalog struct {
	Providers []Entry `yaml:"providers"`
}

type Entry struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"`
	URL       string        `yaml:"url"`
	HealthURL string        `yaml:"health_url"`
	Timeout   string        `yaml:"timeout"`
	Enabled   *bool         `yaml:"enabled"`
	Fixes     []StaticEntry `yaml:"fixes"`
}

// StaticEntry is an inline fix for kind "static", used for demos and smoke tests.
type StaticEntry struct {
	VehicleID string   `yaml:"vehicle_id"`
	Lat       float64  `yaml:"lat"`
	Lng       float64  `yaml:"lng"`
	Accuracy  float64  `yaml:"accuracy"`
	SpeedMS   *float64 `yaml:"speed_ms"`
	Bearing   *float64 `yaml:"bearing"`
	// AgeSeconds places the timestamp relative to load time.
	AgeSeconds int `yaml:"age_seconds"`
}

func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse provider catalog: %w", err)
	}
	seen := map[string]bool{}
	for i, e := range c.Providers {
		if e.Name == "" {
			return Catalog{}, fmt.Errorf("provider #%d: name is required", i+1)
		}
		if seen[e.Name] {
			return Catalog{}, fmt.Errorf("provider %q: duplicate name", e.Name)
		}
		seen[e.Name] = true
		switch e.Kind {
		case KindHTTP:
			if e.URL == "" {
				return Catalog{}, fmt.Errorf("provider %q: url is required for kind http", e.Name)
			}
		case KindStatic:
		default:
			return Catalog{}, fmt.Errorf("provider %q: unknown kind %q", e.Name, e.Kind)
		}
		if e.Timeout != "" {
			if _, err := time.ParseDuration(e.Timeout); err != nil {
				return Catalog{}, fmt.Errorf("provider %q: timeout: %w", e.Name, err)
			}
		}
	}
	return c, nil
}

// Build instantiates the enabled providers in catalog order.
func (c Catalog) Build(now time.Time) []Provider {
	out := make([]Provider, 0, len(c.Providers))
	for _, e := range c.Providers {
		if !e.IsEnabled() {
			continue
		}
		switch e.Kind {
		case KindHTTP:
			timeout := 30 * time.Second
			if e.Timeout != "" {
				timeout, _ = time.ParseDuration(e.Timeout)
			}
			out = append(out, NewHTTPProvider(e.Name, HTTPOptions{
				FeedURL:   e.URL,
				HealthURL: e.HealthURL,
				Client:    NewClient(timeout),
			}))
		case KindStatic:
			fixes := make([]RawFix, 0, len(e.Fixes))
			for _, f := range e.Fixes {
				fixes = append(fixes, RawFix{
					VehicleIdentifier: f.VehicleID,
					Lat:               f.Lat,
					Lng:               f.Lng,
					Accuracy:          f.Accuracy,
					SpeedMS:           f.SpeedMS,
					Bearing:           f.Bearing,
					Timestamp:         now.Add(-time.Duration(f.AgeSeconds) * time.Second),
				})
			}
			out = append(out, NewStatic(e.Name, fixes...))
		}
	}
	return out
}
