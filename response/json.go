package response

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

// Decode error codes.
const (
	CodeJSONSyntax = 4
	CodeJSONType   = 8
)

// JSON decodes the body as JSON. With auto decoding on (the default) the
// body is decoded by Init; otherwise Content stays nil until Decode.
type JSON struct {
	base
	autoDecode bool
	content    any
}

var _ Response = (*JSON)(nil)

// NewJSON returns a JSON response with auto decoding on.
func NewJSON() *JSON { return &JSON{autoDecode: true} }

// SetAutoDecode controls whether Init decodes the body.
func (r *JSON) SetAutoDecode(on bool) { r.autoDecode = on }

// AutoDecode reports whether Init decodes the body.
func (r *JSON) AutoDecode() bool { return r.autoDecode }

// Init stores the transfer outcome and, with auto decoding on, decodes
// the body.
func (r *JSON) Init(body []byte, info transport.Info, err error) {
	r.initBase(body, info, err)
	r.content = nil
	if r.autoDecode {
		_, _ = r.Decode()
	}
}

// Decode decodes the raw body into generic values (map[string]any, []any,
// string, float64, bool or nil). On failure the decode error is recorded on
// the response and Content stays nil.
func (r *JSON) Decode() (any, error) {
	r.decodeErr = nil
	var v any
	if err := json.Unmarshal(r.raw, &v); err != nil {
		r.content = nil
		r.decodeErr = jsonError(err)
		return nil, r.decodeErr
	}
	r.content = v
	return v, nil
}

// DecodeInto decodes the raw body into v. A failure is returned only; the
// response's own error state is left to Decode.
func (r *JSON) DecodeInto(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return jsonError(err)
	}
	return nil
}

// ToMap returns the body as a JSON object, decoding it first if needed.
// Like DecodeInto it never changes HasError.
func (r *JSON) ToMap() (map[string]any, error) {
	if m, ok := r.content.(map[string]any); ok {
		return m, nil
	}
	var m map[string]any
	if err := r.DecodeInto(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Content returns the decoded value, or nil before a successful Decode.
func (r *JSON) Content() any { return r.content }

func jsonError(err error) *Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &Error{Code: CodeJSONType, Message: fmt.Sprintf("cannot decode %s into %s", typeErr.Value, typeErr.Type)}
	}
	return &Error{Code: CodeJSONSyntax, Message: "syntax error, malformed JSON: " + err.Error()}
}
