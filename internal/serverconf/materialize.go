// Package serverconf turns the loose option map of a command invocation into a
// validated model.ServerConfig and renders the configuration files a backend
// needs.
package serverconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gekkophp/gekko/internal/model"
)

// Option keys, equal to the CLI flag names.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyDocumentRoot   = "document-root"
	KeyWorkers        = "workers"
	KeySocket         = "socket"
	KeyUpstream       = "upstream"
	KeyConfigOut      = "config-out"
	KeyKeepConfig     = "keep-config"
	KeyBinary         = "binary"
	KeyIni            = "ini"
	KeyMaxRequests    = "max-requests"
	KeyGracePeriod    = "grace-period"
	KeyReadyTimeout   = "ready-timeout"
	KeyHealthInterval = "health-interval"
)

const maxWorkers = 1024

// Materializer validates options of one backend kind.
type Materializer struct {
	Kind string
	// Required keys must be present and non empty.
	Required []string
}

// For returns the materializer of a built-in backend kind.
func For(kind string) (Materializer, error) {
	switch kind {
	case model.KindPHPServer:
		return Materializer{Kind: kind, Required: []string{KeyHost, KeyPort, KeyDocumentRoot}}, nil
	case model.KindPHPCGI:
		return Materializer{Kind: kind, Required: []string{KeyHost, KeyPort, KeyWorkers}}, nil
	case model.KindNginx:
		return Materializer{Kind: kind, Required: []string{KeyHost, KeyPort, KeyDocumentRoot, KeyUpstream}}, nil
	default:
		return Materializer{}, fmt.Errorf("unsupported backend kind %q", kind)
	}
}

// Materialize validates opts and returns the resulting configuration. The
// first missing or invalid key is reported as model.InvalidOptionError.
// Defaults are not applied here.
func (m Materializer) Materialize(opts map[string]string, directives []model.Directive) (model.ServerConfig, error) {
	cfg := model.ServerConfig{Kind: m.Kind}

	_, hasSocket := present(opts, KeySocket)
	for _, key := range m.Required {
		if hasSocket && m.Kind == model.KindPHPCGI && (key == KeyHost || key == KeyPort) {
			continue
		}
		if _, ok := present(opts, key); !ok {
			return cfg, &model.InvalidOptionError{Key: key, Reason: "required"}
		}
	}

	for _, step := range []struct {
		key   string
		parse func(string, *model.ServerConfig) error
	}{
		{KeyHost, parseHost},
		{KeyPort, parsePort},
		{KeyDocumentRoot, parseDocumentRoot},
		{KeyWorkers, parseWorkers},
		{KeySocket, parseSocket},
		{KeyUpstream, parseUpstream},
		{KeyConfigOut, parseConfigOut},
		{KeyKeepConfig, parseKeepConfig},
		{KeyBinary, func(v string, c *model.ServerConfig) error { c.Binary = v; return nil }},
		{KeyIni, parseIni},
		{KeyMaxRequests, parseMaxRequests},
		{KeyGracePeriod, durationInto(&cfg.GracePeriod)},
		{KeyReadyTimeout, positiveDurationInto(&cfg.ReadyTimeout)},
		{KeyHealthInterval, durationInto(&cfg.HealthInterval)},
	} {
		value, ok := present(opts, step.key)
		if !ok {
			continue
		}
		if err := step.parse(value, &cfg); err != nil {
			return cfg, &model.InvalidOptionError{Key: step.key, Value: value, Reason: err.Error()}
		}
	}

	for idx, d := range directives {
		if err := validDirective(d); err != nil {
			return cfg, &model.InvalidOptionError{Key: "directive", Value: d.Name + " " + d.Value, Reason: fmt.Sprintf("#%d: %v", idx, err)}
		}
	}
	// nginx expands variables in root
	if m.Kind == model.KindNginx && strings.Contains(cfg.DocumentRoot, "$") {
		return cfg, &model.InvalidOptionError{Key: KeyDocumentRoot, Value: cfg.DocumentRoot, Reason: `"$" is not allowed in an nginx document root`}
	}
	cfg.Directives = append([]model.Directive(nil), directives...)
	return cfg, nil
}

func present(opts map[string]string, key string) (string, bool) {
	v, ok := opts[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseHost(v string, c *model.ServerConfig) error {
	if strings.ContainsAny(v, " \t;{}/") {
		return fmt.Errorf("not a host name or address")
	}
	c.Host = strings.Trim(v, "[]")
	return nil
}

func parsePort(v string, c *model.ServerConfig) error {
	port, err := model.ParsePort(v)
	if err != nil {
		return err
	}
	c.Port = port
	return nil
}

func parseDocumentRoot(v string, c *model.ServerConfig) error {
	abs, err := filepath.Abs(v)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("does not exist")
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("not readable")
	}
	_ = f.Close()
	c.DocumentRoot = abs
	return nil
}

func parseWorkers(v string, c *model.ServerConfig) error {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if n < 1 || n > maxWorkers {
		return fmt.Errorf("out of range 1-%d", maxWorkers)
	}
	c.Workers = uint(n)
	return nil
}

func parseSocket(v string, c *model.ServerConfig) error {
	path := strings.TrimPrefix(v, "unix:")
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("directory %s does not exist", filepath.Dir(abs))
	}
	c.Socket = abs
	return nil
}

func parseUpstream(v string, c *model.ServerConfig) error {
	ep, err := model.ParseEndpoint(v)
	if err != nil {
		return err
	}
	c.Upstream = ep
	return nil
}

func parseConfigOut(v string, c *model.ServerConfig) error {
	abs, err := filepath.Abs(v)
	if err != nil {
		return err
	}
	c.ConfigOut = abs
	return nil
}

func parseKeepConfig(v string, c *model.ServerConfig) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("not a boolean")
	}
	c.KeepConfig = b
	return nil
}

func parseIni(v string, c *model.ServerConfig) error {
	if _, err := os.Stat(v); err != nil {
		return fmt.Errorf("does not exist")
	}
	c.Ini = v
	return nil
}

func parseMaxRequests(v string, c *model.ServerConfig) error {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	c.MaxRequests = uint(n)
	return nil
}

func durationInto(dst *time.Duration) func(string, *model.ServerConfig) error {
	return func(v string, _ *model.ServerConfig) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("not a duration")
		}
		if d < 0 {
			return fmt.Errorf("must not be negative")
		}
		*dst = d
		return nil
	}
}

// positiveDurationInto is durationInto for settings where 0 has no meaning.
func positiveDurationInto(dst *time.Duration) func(string, *model.ServerConfig) error {
	parse := durationInto(dst)
	return func(v string, c *model.ServerConfig) error {
		if err := parse(v, c); err != nil {
			return err
		}
		if *dst == 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	}
}

func validDirective(d model.Directive) error {
	if d.Name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(d.Name, " \t\n;{}") {
		return fmt.Errorf("invalid name %q", d.Name)
	}
	if strings.ContainsAny(d.Value, "\n;{}") {
		return fmt.Errorf("invalid value %q", d.Value)
	}
	return nil
}
