package fastcgi

import (
	"net"
	"strconv"
	"time"
)

type Network string

const (
	NetworkTCP  Network = "tcp"
	NetworkUnix Network = "unix"
)

//Connection describes where a FastCGI application listens and how long to
//wait for it. Two connections are interchangeable for socket reuse only if
//every field, timeouts included, is equal.
type Connection struct {
	Network          Network
	Host             string
	Port             int
	Path             string
	ConnectTimeout   time.Duration
	ReadWriteTimeout time.Duration
}

type OptionConnection func(c *Connection)

func WithConnectTimeout(d time.Duration) OptionConnection {
	return func(c *Connection) {
		c.ConnectTimeout = d
	}
}

func WithReadWriteTimeout(d time.Duration) OptionConnection {
	return func(c *Connection) {
		c.ReadWriteTimeout = d
	}
}

//NewNetworkConnection returns a TCP endpoint
func NewNetworkConnection(host string, port int, opts ...OptionConnection) Connection {
	c := Connection{
		Network:          NetworkTCP,
		Host:             host,
		Port:             port,
		ConnectTimeout:   DefaultConnectTimeout,
		ReadWriteTimeout: DefaultReadWriteTimeout,
	}

	for _, fn := range opts {
		fn(&c)
	}

	return c
}

//NewUnixConnection returns a unix domain socket endpoint
func NewUnixConnection(path string, opts ...OptionConnection) Connection {
	c := Connection{
		Network:          NetworkUnix,
		Path:             path,
		ConnectTimeout:   DefaultConnectTimeout,
		ReadWriteTimeout: DefaultReadWriteTimeout,
	}

	for _, fn := range opts {
		fn(&c)
	}

	return c
}

func (c Connection) Equal(other Connection) bool {
	return c == other
}

//Address is the dialable address, without scheme
func (c Connection) Address() string {
	if c.Network == NetworkUnix {
		return c.Path
	}

	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String renders the endpoint as tcp://host:port or unix://path
func (c Connection) String() string {
	return string(c.Network) + "://" + c.Address()
}

func (c Connection) dial() (net.Conn, error) {
	d := net.Dialer{Timeout: c.ConnectTimeout}

	return d.Dial(string(c.Network), c.Address())
}
