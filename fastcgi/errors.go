package fastcgi

import (
	"fmt"

	"github.com/pkg/errors"
)

//Kind classifies a failure so callers can tell a request that was never
//accepted from one whose response could not be read.
type Kind int

const (
	//KindConnect: the transport could not be opened or configured
	KindConnect Kind = iota + 1

	//KindTimeout: a read or write deadline expired
	KindTimeout

	//KindWrite: the request could not be written or was refused by the application
	KindWrite

	//KindRead: the response could not be read or was not understood
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrSocketBusy        = errors.New("socket is busy or unusable")
	ErrSocketIDExhausted = errors.New("no free socket id")
	ErrUnknownSocket     = errors.New("unknown socket id")
	ErrNoPendingRequests = errors.New("no pending requests found")
	ErrConnectionClosed  = errors.New("connection closed by the FastCGI application")
	ErrCantMultiplex     = errors.New("this app can't multiplex")
	ErrOverloaded        = errors.New("new request rejected; too busy")
	ErrUnknownRole       = errors.New("role value not known")
	ErrUnknownStatus     = errors.New("unknown content")
)

//Error is returned by every fallible operation of this package.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fastcgi %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause implements the causer interface of github.com/pkg/errors
func (e *Error) Cause() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

func connectError(err error, format string, args ...interface{}) error {
	return newError(KindConnect, err, format, args...)
}

func timeoutError(err error, format string, args ...interface{}) error {
	return newError(KindTimeout, err, format, args...)
}

func writeError(err error, format string, args ...interface{}) error {
	return newError(KindWrite, err, format, args...)
}

func readError(err error, format string, args ...interface{}) error {
	return newError(KindRead, err, format, args...)
}

//KindOf reports the Kind of err, or 0 if err did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

func IsConnectError(err error) bool { return KindOf(err) == KindConnect }
func IsTimeoutError(err error) bool { return KindOf(err) == KindTimeout }
func IsWriteError(err error) bool   { return KindOf(err) == KindWrite }
func IsReadError(err error) bool    { return KindOf(err) == KindRead }
