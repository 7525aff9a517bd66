package fastcgi

import (
	"strconv"
)

type (
	//ResponseCallback receives a fully assembled response. A returned error
	//is routed to the request's failure callbacks.
	ResponseCallback func(resp *Response) error

	FailureCallback func(err error)

	//PassThroughCallback sees raw STDOUT/STDERR chunks as they arrive; one of
	//the two arguments is always empty.
	PassThroughCallback func(output, errorOutput string)
)

//Request is what a socket needs to send one FastCGI request and to notify
//its owner afterwards.
type Request interface {
	Params() map[string]string
	Content() []byte
	ContentLength() int
	ResponseCallbacks() []ResponseCallback
	FailureCallbacks() []FailureCallback
	PassThroughCallbacks() []PassThroughCallback
}

const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"

	DefaultContentType    = "application/x-www-form-urlencoded"
	DefaultServerSoftware = "fastcgi-client/go"
)

//CGIRequest is a Request carrying the usual CGI environment
type CGIRequest struct {
	Method         string
	ScriptFilename string
	RequestURI     string
	ContentType    string
	ServerSoftware string
	RemoteAddr     string
	RemotePort     int
	ServerAddr     string
	ServerPort     int
	ServerName     string
	ServerProtocol string
	Body           []byte

	custom      map[string]string
	onResponse  []ResponseCallback
	onFailure   []FailureCallback
	passThrough []PassThroughCallback
}

type OptionRequest func(req *CGIRequest)

//WithParam sets a custom CGI variable; custom variables win over defaults
func WithParam(name, value string) OptionRequest {
	return func(req *CGIRequest) {
		req.custom[name] = value
	}
}

func WithContentType(contentType string) OptionRequest {
	return func(req *CGIRequest) {
		req.ContentType = contentType
	}
}

func WithRequestURI(uri string) OptionRequest {
	return func(req *CGIRequest) {
		req.RequestURI = uri
	}
}

func NewRequest(method, scriptFilename string, content []byte, reqConfig ...OptionRequest) *CGIRequest {
	req := &CGIRequest{
		Method:         method,
		ScriptFilename: scriptFilename,
		ContentType:    DefaultContentType,
		ServerSoftware: DefaultServerSoftware,
		RemoteAddr:     "192.168.0.1",
		RemotePort:     9985,
		ServerAddr:     "127.0.0.1",
		ServerPort:     80,
		ServerName:     "localhost",
		ServerProtocol: "HTTP/1.1",
		Body:           content,
		custom:         make(map[string]string),
	}

	for _, fn := range reqConfig {
		fn(req)
	}

	return req
}

func NewGetRequest(scriptFilename string, content []byte, opts ...OptionRequest) *CGIRequest {
	return NewRequest(MethodGet, scriptFilename, content, opts...)
}

func NewPostRequest(scriptFilename string, content []byte, opts ...OptionRequest) *CGIRequest {
	return NewRequest(MethodPost, scriptFilename, content, opts...)
}

func NewPutRequest(scriptFilename string, content []byte, opts ...OptionRequest) *CGIRequest {
	return NewRequest(MethodPut, scriptFilename, content, opts...)
}

func NewPatchRequest(scriptFilename string, content []byte, opts ...OptionRequest) *CGIRequest {
	return NewRequest(MethodPatch, scriptFilename, content, opts...)
}

func NewDeleteRequest(scriptFilename string, content []byte, opts ...OptionRequest) *CGIRequest {
	return NewRequest(MethodDelete, scriptFilename, content, opts...)
}

func (r *CGIRequest) SetParam(name, value string) {
	r.custom[name] = value
}

func (r *CGIRequest) OnResponse(fns ...ResponseCallback) *CGIRequest {
	r.onResponse = append(r.onResponse, fns...)
	return r
}

func (r *CGIRequest) OnFailure(fns ...FailureCallback) *CGIRequest {
	r.onFailure = append(r.onFailure, fns...)
	return r
}

func (r *CGIRequest) OnPassThrough(fns ...PassThroughCallback) *CGIRequest {
	r.passThrough = append(r.passThrough, fns...)
	return r
}

// Params implements Request
func (r *CGIRequest) Params() map[string]string {
	params := map[string]string{
		"GATEWAY_INTERFACE": "FastCGI/1.0",
		"REQUEST_METHOD":    r.Method,
		"SCRIPT_FILENAME":   r.ScriptFilename,
		"SERVER_SOFTWARE":   r.ServerSoftware,
		"REMOTE_ADDR":       r.RemoteAddr,
		"REMOTE_PORT":       strconv.Itoa(r.RemotePort),
		"SERVER_ADDR":       r.ServerAddr,
		"SERVER_PORT":       strconv.Itoa(r.ServerPort),
		"SERVER_NAME":       r.ServerName,
		"SERVER_PROTOCOL":   r.ServerProtocol,
		"CONTENT_TYPE":      r.ContentType,
		"CONTENT_LENGTH":    strconv.Itoa(r.ContentLength()),
	}

	if r.RequestURI != "" {
		params["REQUEST_URI"] = r.RequestURI
	}

	for name, value := range r.custom {
		params[name] = value
	}

	return params
}

// Content implements Request
func (r *CGIRequest) Content() []byte {
	return r.Body
}

// ContentLength implements Request
func (r *CGIRequest) ContentLength() int {
	return len(r.Body)
}

// ResponseCallbacks implements Request
func (r *CGIRequest) ResponseCallbacks() []ResponseCallback {
	return r.onResponse
}

// FailureCallbacks implements Request
func (r *CGIRequest) FailureCallbacks() []FailureCallback {
	return r.onFailure
}

// PassThroughCallbacks implements Request
func (r *CGIRequest) PassThroughCallbacks() []PassThroughCallback {
	return r.passThrough
}
