package response

import "github.com/egorkaBurkenya/multireq-go/transport"

// Plain keeps the body as is. Its error state comes from the transfer only.
type Plain struct {
	base
}

var _ Response = (*Plain)(nil)

// NewPlain returns a response that keeps the body as is.
func NewPlain() *Plain { return &Plain{} }

// Init stores the transfer outcome.
func (r *Plain) Init(body []byte, info transport.Info, err error) {
	r.initBase(body, info, err)
}

// Content returns the body as a string.
func (r *Plain) Content() any { return string(r.raw) }
