package fastcgi

import (
	"time"
)

//recType is a record type, as defined by the FastCGI 1.0 protocol
type recType uint8

const version uint8 = 1

const (
	typeBeginRequest    recType = 1
	typeAbortRequest    recType = 2
	typeEndRequest      recType = 3
	typeParams          recType = 4
	typeStdin           recType = 5
	typeStdout          recType = 6
	typeStderr          recType = 7
	typeData            recType = 8
	typeGetValues       recType = 9
	typeGetValuesResult recType = 10
	typeUnknownType     recType = 11
)

// String implements fmt.Stringer
func (t recType) String() string {
	switch t {
	case typeBeginRequest:
		return "FCGI_BEGIN_REQUEST"

	case typeAbortRequest:
		return "FCGI_ABORT_REQUEST"

	case typeEndRequest:
		return "FCGI_END_REQUEST"

	case typeParams:
		return "FCGI_PARAMS"

	case typeStdin:
		return "FCGI_STDIN"

	case typeStdout:
		return "FCGI_STDOUT"

	case typeStderr:
		return "FCGI_STDERR"

	case typeData:
		return "FCGI_DATA"

	case typeGetValues:
		return "FCGI_GET_VALUES"

	case typeGetValuesResult:
		return "FCGI_GET_VALUES_RESULT"

	case typeUnknownType:
		fallthrough

	default:
		return "FCGI_UNKNOWN_TYPE"
	}
}

// GoString implements fmt.GoStringer
func (t recType) GoString() string {
	return t.String()
}

const (
	headerLen = 8
	maxWrite  = 65535 //maximum record body
)

const (
	RoleResponder uint16 = iota + 1
)

//keep the connection open after the request ends
const flagKeepConn uint8 = 1

//protocol status carried at offset 4 of an END_REQUEST body
const (
	statusRequestComplete = iota
	statusCantMultiplex
	statusOverloaded
	statusUnknownRole
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultReadWriteTimeout = 5 * time.Second

	//slack granted to a readiness probe
	DefaultPollSlack = 20 * time.Millisecond

	//sleep between two passes of the blocking wait loops
	DefaultTickInterval = 2 * time.Millisecond
)
