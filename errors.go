package multireq

import "errors"

// Error kinds. Configuration errors are returned to the caller and stop the
// operation. Invalid arguments are logged and the offending item is skipped.
var (
	ErrConfiguration   = errors.New("multireq: configuration error")
	ErrInvalidArgument = errors.New("multireq: invalid argument")
)

var (
	ErrEmptyURL               = wrap(ErrConfiguration, "url is empty")
	ErrRequestClosed          = wrap(ErrConfiguration, "request is closed")
	ErrInvalidResponseFactory = wrap(ErrConfiguration, "response factory is nil or produced no response")
	ErrBadTransportOption     = wrap(ErrConfiguration, "bad transport option")

	ErrNilHandler = wrap(ErrInvalidArgument, "nil event handler")
	ErrBadFile    = wrap(ErrInvalidArgument, "file is not a readable regular file")
	ErrBadOption  = wrap(ErrInvalidArgument, "bad common option")

	ErrHandlerNotDetachable = wrap(ErrInvalidArgument, "handler is not comparable, register it with NewHandler to detach it")
)

type kindError struct {
	kind error
	msg  string
}

func wrap(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }

func (e *kindError) Error() string { return "multireq: " + e.msg }

func (e *kindError) Unwrap() error { return e.kind }
