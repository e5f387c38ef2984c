package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// BatchFile is a batch of requests loaded from TOML or YAML:
//
//	concurrency = 4
//
//	[common]
//	userAgent = "multireq"
//	timeout = 10
//
//	[[request]]
//	url = "${API}/users"
//	type = "json"
//
// Options in [common] are applied to every request after its own settings,
// so they take precedence.
type BatchFile struct {
	Concurrency int            `mapstructure:"concurrency"`
	Wait        int            `mapstructure:"wait"`
	Common      map[string]any `mapstructure:"common"`
	Requests    []RequestSpec  `mapstructure:"request"`
}

// RequestSpec describes one request of a batch file.
type RequestSpec struct {
	Name         string            `mapstructure:"name"`
	URL          string            `mapstructure:"url"`
	Method       string            `mapstructure:"method"`
	Headers      []string          `mapstructure:"headers"`
	Params       map[string]any    `mapstructure:"params"`
	Files        map[string]string `mapstructure:"files"`
	Cookies      map[string]string `mapstructure:"cookies"`
	Type         string            `mapstructure:"type"`
	Timeout      int               `mapstructure:"timeout"`
	MaxRedirects int               `mapstructure:"max_redirects"`
	NoRedirect   bool              `mapstructure:"no_redirect"`
	Options      map[string]any    `mapstructure:"options"`
}

// LoadBatchFile reads path, expands ${VAR} references and decodes it. The
// format follows the extension: .toml, or .yaml/.yml. Variables are looked
// up in envFiles first, then in the process environment. Keys the batch
// file does not define are returned sorted so the caller can warn about
// them.
func LoadBatchFile(path string, envFiles ...string) (*BatchFile, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read batch file: %w", err)
	}

	vars := map[string]string{}
	if len(envFiles) > 0 {
		if vars, err = godotenv.Read(envFiles...); err != nil {
			return nil, nil, fmt.Errorf("read env files: %w", err)
		}
	}
	content := os.Expand(string(data), func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})

	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(content, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported batch file extension %q", ext)
	}

	var bf BatchFile
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           &bf,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	unused := md.Unused
	sort.Strings(unused)

	if len(bf.Requests) == 0 {
		return nil, unused, fmt.Errorf("%s defines no requests", path)
	}
	for i, r := range bf.Requests {
		if r.URL == "" {
			return nil, unused, fmt.Errorf("request %d: url is required", i)
		}
	}
	return &bf, unused, nil
}

// Build turns the spec into a request logging to logger. Unknown transport
// option names are reported as errors.
func (s RequestSpec) Build(logger *slog.Logger) (*multireq.Request, error) {
	r := multireq.New(s.URL).
		SetLogger(logger).
		SetMethod(s.Method).
		SetHeaders(s.Headers...).
		SetCookies(s.Cookies).
		SetTimeout(s.Timeout).
		SetRedirectLimit(s.MaxRedirects).
		SetAllowRedirect(!s.NoRedirect)
	if s.Type != "" {
		r.SetResponseType(s.Type)
	}
	if len(s.Params) > 0 {
		r.SetPostParams(s.Params)
	}
	fields := make([]string, 0, len(s.Files))
	for field := range s.Files {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		r.AttachFile(field, s.Files[field])
	}

	if len(s.Options) > 0 {
		opts := make(map[transport.Option]any, len(s.Options))
		for name, v := range s.Options {
			opt, ok := transport.ParseOption(name)
			if !ok {
				return nil, fmt.Errorf("request %s: unknown transport option %q", s.label(), name)
			}
			opts[opt] = v
		}
		r.SetOptions(opts)
	}
	return r, nil
}

func (s RequestSpec) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}
