package fastcgi

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

type socketStatus int

const (
	socketInit socketStatus = iota
	socketIdle
	socketBusy
)

func (st socketStatus) String() string {
	switch st {
	case socketInit:
		return "init"
	case socketIdle:
		return "idle"
	default:
		return "busy"
	}
}

//how long an idle socket is probed for stray bytes or EOF
const usableProbe = time.Millisecond

var errNoRequestInFlight = errors.New("no request in flight")

//Socket owns one transport to a FastCGI application and runs one
//request/response exchange at a time on it.
type Socket struct {
	id         SocketID
	connection Connection
	pollSlack  time.Duration

	conn      net.Conn
	reader    *bufio.Reader
	status    socketStatus
	startTime time.Time

	//transport state observed so far
	timedOut bool
	broken   bool

	responseCallbacks    []ResponseCallback
	failureCallbacks     []FailureCallback
	passThroughCallbacks []PassThroughCallback

	response *Response
}

func newSocket(id SocketID, connection Connection, pollSlack time.Duration) *Socket {
	return &Socket{
		id:         id,
		connection: connection,
		pollSlack:  pollSlack,
		status:     socketInit,
	}
}

func (s *Socket) ID() SocketID {
	return s.id
}

func (s *Socket) Connection() Connection {
	return s.connection
}

//IsIdle is true until a request is sent and again once its response is read
func (s *Socket) IsIdle() bool {
	return s.status != socketBusy
}

func (s *Socket) IsBusy() bool {
	return s.status == socketBusy
}

//IsUsable reports whether the transport can carry another request: either
//there is none yet, or it is open with no timeout, no EOF and nothing unread.
func (s *Socket) IsUsable() bool {
	if s.conn == nil {
		return !s.broken
	}

	if s.timedOut || s.broken {
		return false
	}

	if s.reader.Buffered() > 0 {
		return false
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(usableProbe)); err != nil {
		s.broken = true
		return false
	}

	_, err := s.reader.Peek(1)
	_ = s.conn.SetReadDeadline(time.Time{})

	switch {
	case err == nil:
		//bytes nobody asked for
		return false

	case isTimeout(err):
		return true

	default:
		s.broken = true
		return false
	}
}

//HasResponse probes, within the poll slack, whether the application has
//started answering. A busy socket whose read/write timeout has elapsed
//since the request was written also reports true so that reading it
//surfaces the timeout.
func (s *Socket) HasResponse() bool {
	return s.ready(0)
}

//ready is HasResponse with expiry measured against timeout, or the
//connection's read/write timeout when timeout is zero
func (s *Socket) ready(timeout time.Duration) bool {
	if s.conn == nil || s.status != socketBusy {
		return false
	}

	if s.timedOut || s.reader.Buffered() > 0 {
		return true
	}

	if s.expired(timeout) {
		return true
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.pollSlack)); err != nil {
		return true
	}

	_, err := s.reader.Peek(1)
	_ = s.conn.SetReadDeadline(time.Time{})

	//EOF and transport errors count as ready so the read reports them
	return err == nil || !isTimeout(err)
}

func (s *Socket) effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}

	return s.connection.ReadWriteTimeout
}

func (s *Socket) expired(timeout time.Duration) bool {
	timeout = s.effectiveTimeout(timeout)

	return timeout > 0 && time.Since(s.startTime) >= timeout
}

func (s *Socket) connect() error {
	conn, err := s.connection.dial()
	if err != nil {
		return connectError(err, "unable to connect to FastCGI application at %s", s.connection)
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)

	return nil
}

//SendRequest writes req as BEGIN_REQUEST, PARAMS and STDIN records and
//marks the socket busy.
func (s *Socket) SendRequest(req Request) error {
	if !s.IsIdle() || !s.IsUsable() {
		return connectError(ErrSocketBusy, "socket %d (%s)", s.id, s.status)
	}

	if s.conn == nil {
		if err := s.connect(); err != nil {
			return err
		}
	}

	if timeout := s.connection.ReadWriteTimeout; timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return connectError(err, "unable to set deadline on %s", s.connection)
		}
	}

	w := requestWriter{reqID: uint16(s.id)}
	w.writeBeginRequest(RoleResponder, flagKeepConn)
	w.writeStream(typeParams, EncodePairs(req.Params()))
	w.writeStream(typeStdin, req.Content())

	s.response = nil

	if _, err := w.writeTo(s.conn); err != nil {
		if isTimeout(err) {
			s.timedOut = true
			return timeoutError(err, "write to %s timed out", s.connection)
		}

		s.broken = true
		return writeError(err, "failed to write request to %s", s.connection)
	}

	s.startTime = time.Now()
	s.status = socketBusy
	s.responseCallbacks = req.ResponseCallbacks()
	s.failureCallbacks = req.FailureCallbacks()
	s.passThroughCallbacks = req.PassThroughCallbacks()

	return nil
}

//FetchResponse reads records until this socket's END_REQUEST. A response
//already read is returned again without touching the transport. timeout
//bounds each record read; zero means the connection's read/write timeout.
//A request older than that timeout fails at once.
func (s *Socket) FetchResponse(timeout time.Duration) (*Response, error) {
	if s.response != nil {
		return s.response, nil
	}

	if s.conn == nil || s.status != socketBusy {
		return nil, readError(errNoRequestInFlight, "socket %d", s.id)
	}

	if s.timedOut || s.expired(timeout) {
		return nil, timeoutError(os.ErrDeadlineExceeded, "read from %s timed out", s.connection)
	}

	timeout = s.effectiveTimeout(timeout)

	var (
		stdout, stderr bytes.Buffer
		rec            record
	)

readLoop:
	for {
		deadline := time.Time{}
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}

		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.broken = true
			return nil, readError(err, "unable to set deadline on %s", s.connection)
		}

		if err := rec.read(s.reader); err != nil {
			return nil, s.readFailure(err)
		}

		switch rec.recType() {
		case typeStdout:
			stdout.Write(rec.content())
			s.passThrough(string(rec.content()), "")

		case typeStderr:
			stderr.Write(rec.content())
			s.passThrough("", string(rec.content()))

		case typeEndRequest:
			if rec.h.RequestID == uint16(s.id) {
				break readLoop
			}
		}
	}

	_ = s.conn.SetDeadline(time.Time{})
	s.status = socketIdle

	body := rec.content()
	if len(body) < 5 {
		return nil, readError(ErrUnknownStatus, "short %s body from %s", typeEndRequest, s.connection)
	}

	switch body[4] {
	case statusRequestComplete:

	case statusCantMultiplex:
		return nil, writeError(ErrCantMultiplex, "%s", s.connection)

	case statusOverloaded:
		return nil, writeError(ErrOverloaded, "%s", s.connection)

	case statusUnknownRole:
		return nil, writeError(ErrUnknownRole, "%s", s.connection)

	default:
		return nil, readError(ErrUnknownStatus, "protocol status %d from %s", body[4], s.connection)
	}

	s.response = newResponse(stdout.Bytes(), stderr.Bytes(), time.Since(s.startTime))

	return s.response, nil
}

func (s *Socket) readFailure(err error) error {
	if isTimeout(err) {
		s.timedOut = true
		return timeoutError(err, "read from %s timed out", s.connection)
	}

	s.broken = true

	if err == io.EOF && s.reader.Buffered() == 0 {
		return readError(ErrConnectionClosed, "%s", s.connection)
	}

	return readError(err, "failed to read response from %s", s.connection)
}

func (s *Socket) passThrough(output, errorOutput string) {
	for _, fn := range s.passThroughCallbacks {
		fn(output, errorOutput)
	}
}

//notifyResponseCallbacks stops at the first callback that fails; a panic
//counts as a failure and an error panic value is passed on as is
func (s *Socket) notifyResponseCallbacks(resp *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
				return
			}

			err = errors.Errorf("response callback panicked: %v", r)
		}
	}()

	for _, fn := range s.responseCallbacks {
		if err = fn(resp); err != nil {
			return err
		}
	}

	return nil
}

func (s *Socket) notifyFailureCallbacks(err error) {
	for _, fn := range s.failureCallbacks {
		fn(err)
	}
}

// Close closes the transport; the socket is unusable afterwards
func (s *Socket) Close() error {
	s.broken = true

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	s.reader = nil

	return err
}

func isTimeout(err error) bool {
	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}
