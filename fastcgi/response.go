package fastcgi

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//Response is the assembled output of one FastCGI request. It is immutable.
type Response struct {
	output      []byte
	errorOutput []byte
	duration    time.Duration

	headers http.Header
	body    string
}

func newResponse(output, errorOutput []byte, duration time.Duration) *Response {
	resp := &Response{
		output:      output,
		errorOutput: errorOutput,
		duration:    duration,
	}
	resp.headers, resp.body = splitOutput(output)

	return resp
}

//Output is everything the application wrote to FCGI_STDOUT
func (r *Response) Output() string {
	return string(r.output)
}

//ErrorOutput is everything the application wrote to FCGI_STDERR
func (r *Response) ErrorOutput() string {
	return string(r.errorOutput)
}

func (r *Response) Duration() time.Duration {
	return r.duration
}

func (r *Response) ElapsedSeconds() float64 {
	return r.duration.Seconds()
}

func (r *Response) Headers() http.Header {
	return r.headers.Clone()
}

func (r *Response) Header(name string) string {
	return r.headers.Get(name)
}

func (r *Response) Body() string {
	return r.body
}

//StatusCode is taken from the Status header, 200 if there is none
func (r *Response) StatusCode() int {
	status := r.headers.Get("Status")
	if len(status) < 3 {
		return http.StatusOK
	}

	code, err := strconv.Atoi(status[0:3])
	if err != nil {
		return http.StatusOK
	}

	return code
}

//splitOutput reads leading "Key: value" lines up to the first blank line.
//Output without a header block is all body.
func splitOutput(output []byte) (http.Header, string) {
	headers := make(http.Header)
	linebody := bufio.NewReader(bytes.NewReader(output))
	sawBlankLine := false

	for {
		line, err := linebody.ReadString('\n')
		if err == io.EOF {
			break
		}

		line = strings.TrimRight(line, "\r\n")
		if len(line) == 0 {
			sawBlankLine = true
			break
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) < 2 {
			break
		}

		headers.Add(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}

	if !sawBlankLine {
		return make(http.Header), string(output)
	}

	rest, _ := io.ReadAll(linebody)

	return headers, string(rest)
}
