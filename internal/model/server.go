package model

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Backend kinds shipped with gekko.
const (
	KindPHPServer = "php-server"
	KindPHPCGI    = "php-cgi"
	KindNginx     = "nginx"
)

// Directive is a single extra configuration line passed to a backend, e.g.
// client_max_body_size 16m for nginx or memory_limit=256M for php.
type Directive struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// ServerConfig is built once per invocation from defaults, gekko.yaml and CLI
// flags. It is read-only after materialization.
type ServerConfig struct {
	Kind         string
	Host         string
	Port         uint16
	DocumentRoot string // absolute
	Workers      uint
	Socket       string   // unix socket path, php-cgi only
	Upstream     Endpoint // nginx only
	Directives   []Directive

	ConfigOut  string
	KeepConfig bool

	Binary      string
	Ini         string
	MaxRequests uint

	GracePeriod    time.Duration
	ReadyTimeout   time.Duration
	HealthInterval time.Duration
}

// Listen returns the endpoint the backend binds to.
func (c ServerConfig) Listen() Endpoint {
	if c.Socket != "" {
		return Endpoint{Network: "unix", Address: c.Socket}
	}
	return Endpoint{Network: "tcp", Address: net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))}
}

// Endpoint is a dialable address, either tcp host:port or a unix socket path.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	if e.Network == "unix" {
		return "unix:" + e.Address
	}
	return e.Address
}

func (e Endpoint) IsZero() bool {
	return e.Address == ""
}

// ParseEndpoint accepts host:port, unix:/path and bare absolute socket paths.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Endpoint{}, fmt.Errorf("empty address")
	case strings.HasPrefix(s, "unix:"):
		path := strings.TrimPrefix(s, "unix:")
		if path == "" {
			return Endpoint{}, fmt.Errorf("empty unix socket path")
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case strings.HasPrefix(s, "/"):
		return Endpoint{Network: "unix", Address: s}, nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("missing host in %q", s)
	}
	if _, err := ParsePort(port); err != nil {
		return Endpoint{}, err
	}
	if strings.ContainsAny(host, " \t;{}") {
		return Endpoint{}, fmt.Errorf("invalid host %q", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && addr.Zone() != "" {
		return Endpoint{}, fmt.Errorf("zoned address %q not supported", host)
	}
	return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, port)}, nil
}

// ParsePort parses a port number in the range 1-65535.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("out of range 1-65535")
	}
	return uint16(n), nil
}
