package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"os"
)

// classify maps a Go error from an engine onto a transfer error code.
func classify(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	e := &Error{Code: CodeFailed, Message: err.Error()}

	var (
		dnsErr   *net.DNSError
		opErr    *net.OpError
		netErr   net.Error
		certErr  *tls.CertificateVerificationError
		authErr  x509.UnknownAuthorityError
		hostErr  x509.HostnameError
		invalErr x509.CertificateInvalidError
		recErr   tls.RecordHeaderError
		urlErr   *url.Error
	)
	switch {
	case errors.Is(err, errTooManyRedirects):
		e.Code = CodeTooManyRedirects
	case errors.Is(err, context.Canceled):
		e.Code = CodeAborted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		e.Code = CodeOperationTimedOut
	case errors.As(err, &certErr), errors.As(err, &authErr), errors.As(err, &hostErr),
		errors.As(err, &invalErr), errors.As(err, &recErr):
		e.Code = CodeSSLConnectError
	case errors.As(err, &dnsErr):
		e.Code = CodeCouldNotResolveHost
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Code = CodeOperationTimedOut
	case errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "proxyconnect"):
		e.Code = CodeCouldNotConnect
	case errors.As(err, &opErr) && opErr.Op == "write":
		e.Code = CodeSendError
	case errors.As(err, &opErr) && opErr.Op == "read":
		e.Code = CodeRecvError
	case errors.As(err, &urlErr) && urlErr.Op == "parse":
		e.Code = CodeURLMalformat
	}
	return e
}
