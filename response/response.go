// Package response decodes the raw outcome of a transfer into one of three
// interchangeable variants: Plain, JSON and XML.
//
// Every variant reports transfer metadata and an error state. A response has
// an error when the transfer failed or, for the typed variants, when the
// body could not be decoded. The two are kept apart: a decode failure never
// hides a transfer error.
package response

import (
	"errors"
	"fmt"
	"strings"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

// Response is the capability set shared by all variants.
type Response interface {
	// Init stores the raw body, the transfer metadata and the transfer error
	// (nil on success). Typed variants decode here unless told otherwise.
	Init(body []byte, info transport.Info, err error)
	Info() transport.Info
	HasError() bool
	// Err returns the first error: the transfer error if any, else the
	// decode error. It is nil when HasError is false.
	Err() *Error
	Errors() []*Error
	Content() any
	Raw() []byte
	String() string
}

// Factory creates an empty response. It must never return nil.
type Factory func() Response

// Error is a transfer or decode failure recorded on a response.
type Error struct {
	Code    int
	Message string
}

// Error formats the code and message.
func (e *Error) Error() string {
	return fmt.Sprintf("response: error %d: %s", e.Code, e.Message)
}

// Kind selects a built-in variant.
type Kind int

const (
	KindPlain Kind = iota
	KindJSON
	KindXML
)

// String returns the kind name accepted by ParseKind.
func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindXML:
		return "xml"
	}
	return "plain"
}

// ErrUnsupportedKind is returned by ParseKind for unknown names.
var ErrUnsupportedKind = errors.New("response: unsupported type")

// ParseKind accepts json, xml, text, plain and default, case-insensitively.
// Unknown names return KindPlain together with ErrUnsupportedKind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return KindJSON, nil
	case "xml":
		return KindXML, nil
	case "text", "plain", "default", "":
		return KindPlain, nil
	}
	return KindPlain, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// Factory returns the factory of the variant.
func (k Kind) Factory() Factory {
	switch k {
	case KindJSON:
		return func() Response { return NewJSON() }
	case KindXML:
		return func() Response { return NewXML() }
	}
	return func() Response { return NewPlain() }
}

// New creates an empty response of kind k.
func New(k Kind) Response { return k.Factory()() }

// base holds the state every variant shares.
type base struct {
	raw          []byte
	info         transport.Info
	transportErr *Error
	decodeErr    *Error
}

func (b *base) initBase(body []byte, info transport.Info, err error) {
	b.raw = body
	b.info = info
	b.transportErr = nil
	b.decodeErr = nil
	if err == nil {
		return
	}
	var te *transport.Error
	if errors.As(err, &te) {
		b.transportErr = &Error{Code: te.Code, Message: te.Message}
		return
	}
	b.transportErr = &Error{Code: transport.CodeFailed, Message: err.Error()}
}

// Info returns the transfer metadata.
func (b *base) Info() transport.Info { return b.info }

// HasError reports whether the transfer or the decoding failed.
func (b *base) HasError() bool {
	return b.transportErr != nil || b.decodeErr != nil
}

// Err returns the transfer error, or else the decode error, or nil.
func (b *base) Err() *Error {
	if b.transportErr != nil {
		return b.transportErr
	}
	return b.decodeErr
}

// Errors returns the transfer error followed by the decode error, each
// only when set.
func (b *base) Errors() []*Error {
	var errs []*Error
	if b.transportErr != nil {
		errs = append(errs, b.transportErr)
	}
	if b.decodeErr != nil {
		errs = append(errs, b.decodeErr)
	}
	return errs
}

// Raw returns the body bytes.
func (b *base) Raw() []byte { return b.raw }

// String returns the body as text.
func (b *base) String() string { return string(b.raw) }

// StatusCode is a shortcut for Info().StatusCode.
func (b *base) StatusCode() int { return b.info.StatusCode }
