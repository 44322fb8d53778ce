package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnknownArray is the array name of optimizers missing from the arrays table
const UnknownArray = "unknown"

// Site is the site file: which site to poll, how to log in, and which array
// each optimizer (by serial number) belongs to
type Site struct {
	SiteID   string            `yaml:"siteid"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Arrays   map[string]string `yaml:"arrays"`
}

// LoadSiteFromYAML reads and validates a site file
func LoadSiteFromYAML(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSite(data)
}

// ParseSite parses and validates site YAML
func ParseSite(data []byte) (*Site, error) {
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if site.SiteID == "" {
		return nil, fmt.Errorf("missing siteid")
	}
	if site.Username == "" || site.Password == "" {
		return nil, fmt.Errorf("missing username or password")
	}
	return &site, nil
}

// ArrayFor returns the array an optimizer serial number belongs to
func (s *Site) ArrayFor(serialNumber string) string {
	if a, ok := s.Arrays[serialNumber]; ok && a != "" {
		return a
	}
	return UnknownArray
}
