package fastcgi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/http/fcgi"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testTimeout = 2 * time.Second

//echoHandler writes back the test-key form value, after sleeping for the
//number of milliseconds in the sleep form value
func echoHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if ms := r.FormValue("sleep"); ms != "" {
		n, _ := strconv.Atoi(ms)
		time.Sleep(time.Duration(n) * time.Millisecond)
	}

	fmt.Fprint(w, r.FormValue("test-key"))
}

func serveEcho(t *testing.T, l net.Listener) {
	var eg errgroup.Group
	eg.Go(func() error {
		_ = fcgi.Serve(l, http.HandlerFunc(echoHandler))
		return nil
	})

	t.Cleanup(func() {
		l.Close()
		_ = eg.Wait()
	})
}

//startEchoWorker runs a net/http/fcgi responder on a TCP port
func startEchoWorker(t *testing.T, opts ...OptionConnection) Connection {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveEcho(t, l)

	opts = append([]OptionConnection{WithReadWriteTimeout(testTimeout)}, opts...)

	return NewNetworkConnection("127.0.0.1", l.Addr().(*net.TCPAddr).Port, opts...)
}

func startUnixEchoWorker(t *testing.T) Connection {
	path := filepath.Join(t.TempDir(), "fcgi.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	serveEcho(t, l)

	return NewUnixConnection(path, WithReadWriteTimeout(testTimeout))
}

//rawReply returns the bytes to write back for one request; nil writes nothing
type rawReply func(reqID uint16, params map[string]string, stdin []byte) []byte

//startRawWorker runs a scripted worker speaking raw records. With
//closeAfter it hangs up after every reply.
func startRawWorker(t *testing.T, closeAfter bool, reply rawReply) Connection {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		eg    errgroup.Group
		mu    sync.Mutex
		conns []net.Conn
	)

	eg.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				return nil
			}

			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()

			eg.Go(func() error {
				serveRaw(conn, closeAfter, reply)
				return nil
			})
		}
	})

	t.Cleanup(func() {
		l.Close()

		mu.Lock()
		for _, conn := range conns {
			conn.Close()
		}
		mu.Unlock()

		_ = eg.Wait()
	})

	return NewNetworkConnection("127.0.0.1", l.Addr().(*net.TCPAddr).Port, WithReadWriteTimeout(testTimeout))
}

func serveRaw(conn net.Conn, closeAfter bool, reply rawReply) {
	defer conn.Close()

	r := bufio.NewReader(conn)

	for {
		var (
			rec        record
			reqID      uint16
			paramBytes []byte
			stdin      []byte
		)

	readLoop:
		for {
			if err := rec.read(r); err != nil {
				return
			}

			switch rec.recType() {
			case typeBeginRequest:
				reqID = rec.h.RequestID

			case typeParams:
				paramBytes = append(paramBytes, rec.content()...)

			case typeStdin:
				if len(rec.content()) == 0 {
					break readLoop
				}
				stdin = append(stdin, rec.content()...)
			}
		}

		params, err := DecodePairs(paramBytes)
		if err != nil {
			return
		}

		if out := reply(reqID, params, stdin); out != nil {
			if _, err := conn.Write(out); err != nil {
				return
			}
		}

		if closeAfter {
			return
		}
	}
}

func stdoutRecord(reqID uint16, s string) []byte {
	return EncodePacket(uint8(typeStdout), []byte(s), reqID)
}

func stderrRecord(reqID uint16, s string) []byte {
	return EncodePacket(uint8(typeStderr), []byte(s), reqID)
}

func endRequestRecord(reqID uint16, protocolStatus uint8) []byte {
	body := make([]byte, 8)
	body[4] = protocolStatus

	return EncodePacket(uint8(typeEndRequest), body, reqID)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}

	return out
}

func echoRequest(value string) *CGIRequest {
	return NewPostRequest("/echo.php", []byte("test-key="+value))
}

func sleepRequest(ms int) *CGIRequest {
	return NewPostRequest("/sleep.php", []byte(fmt.Sprintf("test-key=%d&sleep=%d", ms, ms)))
}
