package cfsync

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials authenticate against the Cloudflare API.
// Exactly one method is needed: an API token, or the deprecated global API key with its account email.
type Credentials struct {
	Token string `yaml:"token"`
	Key   string `yaml:"key"`
	Email string `yaml:"email"`
}

// UsesToken reports whether the token method will be used.
func (c Credentials) UsesToken() bool { return c.Token != "" }

// Validate checks that a usable authentication method is present.
func (c Credentials) Validate() error {
	if c.Token != "" {
		return nil
	}
	switch {
	case c.Key == "" && c.Email == "":
		return &ConfigurationError{Field: "credentials", Reason: "an API token, or an API key and email, is required"}
	case c.Key == "":
		return &ConfigurationError{Field: "key", Reason: "an API key is required when an email is given"}
	case c.Email == "":
		return &ConfigurationError{Field: "email", Reason: "an email is required when an API key is given"}
	}
	return nil
}

// Config is everything a Client needs for one run.
type Config struct {
	// Records are the fully-qualified names to keep in sync.
	Records     []string    `yaml:"records"`
	Credentials Credentials `yaml:"credentials"`

	// IPv4 and IPv6 restrict syncing to one family.
	// When both are false, both families are synced.
	IPv4 bool `yaml:"ipv4"`
	IPv6 bool `yaml:"ipv6"`

	// ValidateNames drops names that are not syntactically valid domain names
	// under a known public suffix.
	ValidateNames bool `yaml:"validate_names"`

	// Comment is attached to records created by cfsync.
	Comment string `yaml:"comment"`
}

// Families returns the address families selected by the config.
func (c Config) Families() Families {
	return Families{IPv4: c.IPv4, IPv6: c.IPv6}
}

// Validate reports the first problem with c as a *ConfigurationError.
func (c Config) Validate() error {
	if len(cleanRecords(c.Records)) == 0 {
		return &ConfigurationError{Field: "records", Reason: "at least one record name is required"}
	}
	return c.Credentials.Validate()
}

// LoadConfigFile reads a YAML config file.
//
//	records:
//	  - home.example.com
//	credentials:
//	  token: "..."
//	ipv4: true
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	return cfg, nil
}

// SplitRecords splits a comma separated list of names, trimming blanks.
func SplitRecords(s string) []string {
	return cleanRecords(strings.Split(s, ","))
}

func cleanRecords(in []string) []string {
	var names []string
	for _, n := range in {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
