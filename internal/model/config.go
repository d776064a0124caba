package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Enum helpers.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"

	EnvPrefix = "GEKKO"
)

// Config is the content of gekko.yaml. Environment variables prefixed with
// GEKKO_ override scalar fields after the file is decoded.
type Config struct {
	Verbose      bool          `yaml:"verbose" envconfig:"VERBOSE"`
	Log          Log           `yaml:"log" envconfig:"LOG"`
	PHP          PHP           `yaml:"php" envconfig:"PHP"`
	Nginx        Nginx         `yaml:"nginx" envconfig:"NGINX"`
	GracePeriod  time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD"`
	ReadyTimeout time.Duration `yaml:"ready_timeout" envconfig:"READY_TIMEOUT"`

	// Servers holds per command option defaults, keyed like the CLI flags.
	Servers map[string]map[string]string `yaml:"servers,omitempty" ignored:"true"`
	// Directives holds extra ordered directives per command.
	Directives map[string][]Directive `yaml:"directives,omitempty" ignored:"true"`
	// Commands are project specific commands registered next to the built-in ones.
	Commands []CustomCommand `yaml:"commands,omitempty" ignored:"true"`
}

type Log struct {
	Format string `yaml:"format" envconfig:"FORMAT"` // json | text
}

type PHP struct {
	Binary    string `yaml:"binary,omitempty" envconfig:"BINARY"`
	CGIBinary string `yaml:"cgi_binary,omitempty" envconfig:"CGI_BINARY"`
	Ini       string `yaml:"ini,omitempty" envconfig:"INI"`
}

type Nginx struct {
	Binary string `yaml:"binary,omitempty" envconfig:"BINARY"`
}

// CustomCommand is an external program supervised the same way as the
// built-in servers.
type CustomCommand struct {
	Name  string            `yaml:"name"`
	Short string            `yaml:"short,omitempty"`
	Path  string            `yaml:"path"`
	Args  []string          `yaml:"args,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
	Dir   string            `yaml:"dir,omitempty"`
	Ready string            `yaml:"ready,omitempty"` // address probed before the command counts as started
}

// DefaultConfig returns the configuration used when no gekko.yaml exists.
func DefaultConfig() Config {
	return Config{
		Log:          Log{Format: LogFormatJSON},
		GracePeriod:  5 * time.Second,
		ReadyTimeout: 10 * time.Second,
	}
}

// LoadConfig decodes YAML from r over the defaults and applies GEKKO_*
// environment overrides.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	raw, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decoding yaml: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration which are not revalidated
// per invocation.
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "", LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format: must be one of json, text: got %q", c.Log.Format))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period: must not be negative"))
	}
	if c.ReadyTimeout < 0 {
		errs = append(errs, fmt.Errorf("ready_timeout: must not be negative"))
	}
	for idx, cmd := range c.Commands {
		switch {
		case cmd.Name == "":
			errs = append(errs, fmt.Errorf("commands[%d].name: required", idx))
		case cmd.Path == "":
			errs = append(errs, fmt.Errorf("commands[%d].path: required", idx))
		}
	}
	return errors.Join(errs...)
}
