package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/fcgi"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func startWorker(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var eg errgroup.Group
	eg.Go(func() error {
		_ = fcgi.Serve(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			w.Header().Set("X-Method", r.Method)
			fmt.Fprintf(w, "%s:%s", r.FormValue("name"), r.Header.Get("X-Token"))
		}))
		return nil
	})

	t.Cleanup(func() {
		l.Close()
		_ = eg.Wait()
	})

	return l.Addr().(*net.TCPAddr).Port
}

func testOptions(port int) options {
	return options{
		network: "tcp",
		host:    "127.0.0.1",
		port:    port,
		script:  "/index.php",
		method:  "post",
		content: "name=gopher",
		params:  paramFlags{"HTTP_X_TOKEN": "secret"},
		repeat:  1,
	}
}

func TestRunSingleRequest(t *testing.T) {
	port := startWorker(t)

	var out bytes.Buffer
	require.NoError(t, run(logrus.StandardLogger(), testOptions(port), &out))
	assert.Equal(t, "gopher:secret", out.String())
}

func TestRunRepeatedAsJSON(t *testing.T) {
	port := startWorker(t)

	opts := testOptions(port)
	opts.repeat = 3
	opts.asJSON = true

	var out bytes.Buffer
	require.NoError(t, run(logrus.StandardLogger(), opts, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	for _, line := range lines {
		var r result
		require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &r))
		assert.Equal(t, "gopher:secret", r.Body)
		assert.Equal(t, []string{"POST"}, r.Headers["X-Method"])
		assert.Empty(t, r.Error)
	}
}

func TestRunWithConfigFile(t *testing.T) {
	port := startWorker(t)

	path := filepath.Join(t.TempDir(), "fcgi.json")
	config := fmt.Sprintf(`{"connection": {"host": "127.0.0.1", "port": %d, "readWriteTimeoutMs": 2000}}`, port)
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	opts := testOptions(0)
	opts.configPath = path

	var out bytes.Buffer
	require.NoError(t, run(logrus.StandardLogger(), opts, &out))
	assert.Equal(t, "gopher:secret", out.String())
}

func TestParamFlags(t *testing.T) {
	p := make(paramFlags)

	require.NoError(t, p.Set("A=b=c"))
	assert.Equal(t, "b=c", p["A"])
	assert.Error(t, p.Set("novalue"))
}

func TestRootCommand(t *testing.T) {
	port := startWorker(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--port", strconv.Itoa(port),
		"--script", "/index.php",
		"-X", "post",
		"-d", "name=gopher",
		"--param", "HTTP_X_TOKEN=secret",
	})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "gopher:secret", out.String())
}

func TestRootCommandRejectsBadParam(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--param", "novalue"})

	require.Error(t, cmd.Execute())
}
