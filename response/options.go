package response

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Option adjusts a response before Init. Options that do not apply to the
// variant are ignored.
type Option func(Response)

// WithAutoDecode toggles JSON decoding at Init.
func WithAutoDecode(on bool) Option {
	return func(r Response) {
		if j, ok := r.(*JSON); ok {
			j.SetAutoDecode(on)
		}
	}
}

// WithAutoParse toggles XML parsing at Init.
func WithAutoParse(on bool) Option {
	return func(r Response) {
		if x, ok := r.(*XML); ok {
			x.SetAutoParse(on)
		}
	}
}

// ErrUnknownOption is returned by OptionsFromMap for unknown keys.
var ErrUnknownOption = errors.New("response: unknown option")

// OptionsFromMap translates named options ("autoDecode", "autoParse") into
// Options. Keys are matched case-insensitively and values are coerced with
// weak typing, so "false" and 0 both disable.
func OptionsFromMap(m map[string]any) ([]Option, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]Option, 0, len(keys))
	for _, k := range keys {
		var on bool
		if err := mapstructure.WeakDecode(m[k], &on); err != nil {
			return nil, fmt.Errorf("response: option %s: %w", k, err)
		}
		switch strings.ToLower(k) {
		case "autodecode":
			opts = append(opts, WithAutoDecode(on))
		case "autoparse":
			opts = append(opts, WithAutoParse(on))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownOption, k)
		}
	}
	return opts, nil
}
