package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout"`      // absolute per-call timeout, default 30s
	UserAgent   string        `yaml:"user_agent"`   // default TenderIngester/1.0
	MaxAttempts int           `yaml:"max_attempts"` // attempts on 429/503/network errors, default 5
	Backoff     time.Duration `yaml:"backoff"`      // first backoff delay, doubled per retry, default 1s
}

type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"` // e.g. ":9109"; empty disables the endpoint
}

type Config struct {
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"` // per source, default 1s
	SourceTimeout     time.Duration `yaml:"source_timeout"`      // per-source deadline, default 30m
	HTTP              HTTPConfig    `yaml:"http"`
	Metrics           MetricsConfig `yaml:"metrics"`
	Sources           Sources       `yaml:"sources"`
}

// SourceEntry is one configured source kept as raw YAML so it can be decoded
// strictly into the typed record of whichever fetcher owns Key.
type SourceEntry struct {
	Key  string
	node yaml.Node
}

// Sources preserves the order of the YAML mapping.
type Sources []SourceEntry

func (s *Sources) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sources must be a mapping of source key to settings", n.Line)
	}
	out := make(Sources, 0, len(n.Content)/2)
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if seen[k.Value] {
			return fmt.Errorf("line %d: duplicate source %q", k.Line, k.Value)
		}
		seen[k.Value] = true
		out = append(out, SourceEntry{Key: k.Value, node: *v})
	}
	*s = out
	return nil
}

// Lookup returns the entry configured for key.
func (s Sources) Lookup(key string) (SourceEntry, bool) {
	for _, e := range s {
		if e.Key == key {
			return e, true
		}
	}
	return SourceEntry{}, false
}

// NewSourceEntry builds an entry from a YAML document; used by tests and tools.
func NewSourceEntry(key, doc string) (SourceEntry, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &n); err != nil {
		return SourceEntry{}, err
	}
	e := SourceEntry{Key: key}
	if len(n.Content) > 0 {
		e.node = *n.Content[0]
	}
	return e, nil
}

// Enabled reads only the enabled flag. Anything unreadable counts as disabled.
func (e SourceEntry) Enabled() bool {
	var probe struct {
		Enabled bool `yaml:"enabled"`
	}
	if e.node.Kind != yaml.MappingNode {
		return false
	}
	if err := e.node.Decode(&probe); err != nil {
		return false
	}
	return probe.Enabled
}

// Decode strictly decodes the entry into v: unknown or misspelled fields are
// reported instead of silently ignored.
func (e SourceEntry) Decode(v any) error {
	if e.node.Kind == 0 {
		return &MalformedError{Key: e.Key, Err: errors.New("empty source entry")}
	}
	if e.node.Kind != yaml.MappingNode {
		return &MalformedError{Key: e.Key, Err: fmt.Errorf("line %d: expected a mapping", e.node.Line)}
	}
	raw, err := yaml.Marshal(&e.node)
	if err != nil {
		return &MalformedError{Key: e.Key, Err: err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return &MalformedError{Key: e.Key, Err: err}
	}
	return nil
}

// Load reads the YAML config at path and applies defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML document and applies defaults.
func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	// Defaults
	if c.RateLimitInterval == 0 {
		c.RateLimitInterval = time.Second
	}
	if c.SourceTimeout == 0 {
		c.SourceTimeout = 30 * time.Minute
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "TenderIngester/1.0"
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = 5
	}
	if c.HTTP.Backoff == 0 {
		c.HTTP.Backoff = time.Second
	}
	if len(c.Sources) == 0 {
		return c, errors.New("no sources configured")
	}
	return c, nil
}
