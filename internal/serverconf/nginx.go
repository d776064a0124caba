package serverconf

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"github.com/gekkophp/gekko/internal/model"
)

//go:embed nginx.conf.tmpl
var nginxSource string

var nginxTemplate = template.Must(template.New("nginx.conf").Parse(nginxSource))

// rootEscaper quotes a path for a double quoted nginx string.
var rootEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

type nginxData struct {
	Listen          string
	Root            string
	Upstream        string
	WorkerProcesses uint
	Directives      []model.Directive
}

// Render returns the nginx configuration for cfg. Equal configurations
// render to identical bytes.
func Render(cfg model.ServerConfig) ([]byte, error) {
	if cfg.Upstream.IsZero() {
		return nil, &model.InvalidOptionError{Key: KeyUpstream, Reason: "required"}
	}
	if cfg.DocumentRoot == "" {
		return nil, &model.InvalidOptionError{Key: KeyDocumentRoot, Reason: "required"}
	}
	if strings.Contains(cfg.DocumentRoot, "$") {
		return nil, &model.InvalidOptionError{Key: KeyDocumentRoot, Value: cfg.DocumentRoot, Reason: `"$" is not allowed in an nginx document root`}
	}
	data := nginxData{
		Listen:          cfg.Listen().Address,
		Root:            rootEscaper.Replace(cfg.DocumentRoot),
		Upstream:        cfg.Upstream.String(),
		WorkerProcesses: max(cfg.Workers, 1),
		Directives:      cfg.Directives,
	}

	var buf bytes.Buffer
	if err := nginxTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering nginx config: %w", err)
	}
	return buf.Bytes(), nil
}

// GeneratedFile is a configuration file written for one run.
type GeneratedFile struct {
	Path string
	// Temporary files were created by this run and are removed by Remove.
	Temporary bool
}

// Write renders cfg and stores it at cfg.ConfigOut, or in a new temporary
// file when no path was given. A file created by this call is temporary
// unless cfg.KeepConfig is set; an existing file is overwritten and kept.
func Write(cfg model.ServerConfig) (GeneratedFile, error) {
	data, err := Render(cfg)
	if err != nil {
		return GeneratedFile{}, err
	}

	if cfg.ConfigOut == "" {
		f, err := os.CreateTemp("", "gekko-nginx-*.conf")
		if err != nil {
			return GeneratedFile{}, &model.ConfigWriteError{Path: os.TempDir(), Err: err}
		}
		gen := GeneratedFile{Path: f.Name(), Temporary: true}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(gen.Path)
			return GeneratedFile{}, &model.ConfigWriteError{Path: gen.Path, Err: err}
		}
		return gen, nil
	}

	_, statErr := os.Stat(cfg.ConfigOut)
	existed := statErr == nil
	if err := os.WriteFile(cfg.ConfigOut, data, 0o644); err != nil {
		return GeneratedFile{}, &model.ConfigWriteError{Path: cfg.ConfigOut, Err: err}
	}
	return GeneratedFile{
		Path:      cfg.ConfigOut,
		Temporary: !existed && !cfg.KeepConfig,
	}, nil
}

// Remove deletes a temporary file. Files the run did not create stay.
func (g GeneratedFile) Remove() error {
	if !g.Temporary || g.Path == "" {
		return nil
	}
	err := os.Remove(g.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
