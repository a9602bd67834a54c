// Package load reads the config file: the work directory, notification
// and messaging settings, and the scheduled rules with their tagged
// source, transform and processor definitions.
package load

import (
	"bytes"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/fetch/report"
)

// A Rule is one scheduled fetch: a name, a cron pattern, a source and an
// optional post-processor.
type Rule struct {
	Name        string
	CronPattern string
	Source      fetch.Source
	Process     fetch.FileProcessor

	sched cron.Schedule
}

// NewRule builds a validated rule. The cron pattern is parsed
// immediately so a bad config fails at load.
func NewRule(name, cronPattern string, source fetch.Source, process fetch.FileProcessor) (*Rule, error) {
	if name == "" {
		return nil, errors.New("a rule has no name")
	}
	if source == nil {
		return nil, errors.Errorf("no source module for item %q", name)
	}
	if cronPattern == "" {
		return nil, errors.Errorf("no cron schedule provided for item %q", name)
	}
	sched, err := cron.ParseStandard(cronPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "cron parse error on %q: %q", name, cronPattern)
	}
	return &Rule{
		Name:        name,
		CronPattern: cronPattern,
		Source:      source,
		Process:     process,
		sched:       sched,
	}, nil
}

// Next returns the first fire time after t.
func (r *Rule) Next(t time.Time) time.Time {
	return r.sched.Next(t)
}

// SanitizedName is the rule name with whitespace and special characters
// stripped out, usable in lock and log filenames.
func (r *Rule) SanitizedName() string {
	return Sanitize(r.Name)
}

// Sanitize lowercases text and replaces every character that is not a
// letter or digit with a dash.
func Sanitize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Config is the loaded configuration.
type Config struct {
	// Directory holds the runtime state: lock/ and log/ subdirectories.
	Directory string

	// Rules sorted by name. An empty list is ok: rules may be added
	// before a reload.
	Rules []*Rule

	NotifyAddresses []string
	Messaging       *report.BusSettings

	// Optional path for the supervisor's own log, and per-component
	// level overrides.
	LogPath   string
	LogLevels map[string]string
}

// Rule returns the named rule, or nil.
func (c *Config) Rule(name string) *Rule {
	for _, r := range c.Rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// The raw file shape. Tagged values inside rules resolve themselves via
// the component registry.
type fileConfig struct {
	Directory string `yaml:"directory"`
	Notify    struct {
		Email []string `yaml:"email"`
	} `yaml:"notify"`
	Messaging *report.BusSettings   `yaml:"messaging"`
	Log       map[string]string     `yaml:"log"`
	LogPath   string                `yaml:"log_path"`
	Rules     map[string]ruleConfig `yaml:"rules"`
}

type ruleConfig struct {
	Schedule string               `yaml:"schedule"`
	Source   *fetch.SourceNode    `yaml:"source"`
	Process  *fetch.ProcessorNode `yaml:"process"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("config path does not exist: %q", path)
		}
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, validating every rule.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	raw := fileConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "invalid config file")
	}

	if raw.Directory == "" {
		return nil, errors.New("no 'directory' specified in config")
	}
	if raw.Messaging != nil && raw.Messaging.URL == "" {
		return nil, errors.New("messaging settings need a 'url'")
	}

	cfg := &Config{
		Directory:       raw.Directory,
		NotifyAddresses: raw.Notify.Email,
		Messaging:       raw.Messaging,
		LogPath:         raw.LogPath,
		LogLevels:       raw.Log,
	}

	for name, fields := range raw.Rules {
		rule, err := newRule(name, fields)
		if err != nil {
			return nil, err
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	sort.Slice(cfg.Rules, func(i, j int) bool { return cfg.Rules[i].Name < cfg.Rules[j].Name })

	return cfg, nil
}

func newRule(name string, fields ruleConfig) (*Rule, error) {
	var source fetch.Source
	if fields.Source != nil {
		source = fields.Source.Source
	}
	var process fetch.FileProcessor
	if fields.Process != nil {
		process = fields.Process.FileProcessor
	}
	return NewRule(name, fields.Schedule, source, process)
}
