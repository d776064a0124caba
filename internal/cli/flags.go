package cli

import (
	"strings"

	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/serverconf"

	"github.com/spf13/pflag"
)

const flagDirective = "directive"

var flagUsage = map[string]string{
	serverconf.KeyHost:           "address to listen on",
	serverconf.KeyPort:           "port to listen on",
	serverconf.KeyDocumentRoot:   "directory served as document root",
	serverconf.KeyWorkers:        "number of worker processes",
	serverconf.KeySocket:         "unix socket to listen on instead of host and port",
	serverconf.KeyUpstream:       "FastCGI upstream, host:port or unix:/path",
	serverconf.KeyConfigOut:      "write the generated nginx configuration to this file",
	serverconf.KeyBinary:         "program to run instead of the one found in PATH",
	serverconf.KeyIni:            "php.ini file to use",
	serverconf.KeyMaxRequests:    "requests served by a php-cgi child before it is replaced",
	serverconf.KeyGracePeriod:    "time to wait for a graceful stop before killing the server",
	serverconf.KeyReadyTimeout:   "time to wait until the server accepts connections",
	serverconf.KeyHealthInterval: "interval of the connection health check, 0 disables it",
}

var kindFlags = map[string][]string{
	model.KindPHPServer: {
		serverconf.KeyHost, serverconf.KeyPort, serverconf.KeyDocumentRoot,
		serverconf.KeyWorkers, serverconf.KeyBinary, serverconf.KeyIni,
	},
	model.KindPHPCGI: {
		serverconf.KeyHost, serverconf.KeyPort, serverconf.KeyWorkers, serverconf.KeySocket,
		serverconf.KeyBinary, serverconf.KeyIni, serverconf.KeyMaxRequests,
	},
	model.KindNginx: {
		serverconf.KeyHost, serverconf.KeyPort, serverconf.KeyDocumentRoot,
		serverconf.KeyUpstream, serverconf.KeyConfigOut, serverconf.KeyBinary,
	},
}

// addFlags declares the flags of command name. Values stay strings and are
// validated by the configuration materializer.
func addFlags(fs *pflag.FlagSet, name string) {
	keys, builtin := kindFlags[name]
	for _, key := range keys {
		fs.String(key, "", flagUsage[key])
	}
	if name == model.KindNginx {
		fs.Bool(serverconf.KeyKeepConfig, false, "keep the generated nginx configuration after shutdown")
	}
	for _, key := range []string{serverconf.KeyGracePeriod, serverconf.KeyReadyTimeout, serverconf.KeyHealthInterval} {
		fs.String(key, "", flagUsage[key])
	}
	if builtin {
		fs.StringArray(flagDirective, nil, `extra configuration directive "name value", repeatable`)
	}
}

// options collects the flags set explicitly on the command line.
func options(fs *pflag.FlagSet, args []string) (registry.Options, error) {
	opts := registry.Options{
		Flags: make(map[string]string),
		Args:  args,
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config", "verbose", "help":
			return
		case flagDirective:
			values, _ := fs.GetStringArray(flagDirective)
			for _, v := range values {
				d, derr := parseDirective(v)
				if derr != nil && err == nil {
					err = derr
				}
				opts.Directives = append(opts.Directives, d)
			}
		default:
			opts.Flags[f.Name] = f.Value.String()
		}
	})
	return opts, err
}

func parseDirective(v string) (model.Directive, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(v), " ")
	value = strings.TrimSpace(value)
	if !ok || name == "" || value == "" {
		return model.Directive{}, &model.InvalidOptionError{Key: flagDirective, Value: v, Reason: `expected "name value"`}
	}
	return model.Directive{Name: name, Value: value}, nil
}
