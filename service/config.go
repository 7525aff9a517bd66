package service

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"fastcgi-client/fastcgi"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoConfig = errors.New("no config has been provided")

//Config provides ability to slice configuration sections and unmarshal configuration data into
//given structure.
type Config interface {
	// Get nested config section (sub-map), returns nil if section not found.
	Get(section string) Config

	//Unmarshal unmarshal config data into given struct.
	Unmarshal(out interface{}) error
}

type jsonConfig struct {
	raw jsoniter.RawMessage
}

//NewConfig wraps a JSON document
func NewConfig(data []byte) (Config, error) {
	if !json.Valid(data) {
		return nil, errors.New("config is not valid JSON")
	}

	return &jsonConfig{raw: data}, nil
}

//LoadConfig reads a JSON config file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := NewConfig(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return cfg, nil
}

func (c *jsonConfig) Get(section string) Config {
	sections := make(map[string]jsoniter.RawMessage)
	if err := json.Unmarshal(c.raw, &sections); err != nil {
		return nil
	}

	raw, ok := sections[section]
	if !ok {
		return nil
	}

	return &jsonConfig{raw: raw}
}

func (c *jsonConfig) Unmarshal(out interface{}) error {
	return errors.Wrap(json.Unmarshal(c.raw, out), "unmarshal config")
}

//ConnectionConfig is the "connection" section
type ConnectionConfig struct {
	Network            string `json:"network"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Path               string `json:"path"`
	ConnectTimeoutMs   int    `json:"connectTimeoutMs"`
	ReadWriteTimeoutMs int    `json:"readWriteTimeoutMs"`
}

//Connection turns the section into a connection descriptor. Missing
//timeouts keep the package defaults.
func (c ConnectionConfig) Connection() (fastcgi.Connection, error) {
	var opts []fastcgi.OptionConnection
	if c.ConnectTimeoutMs > 0 {
		opts = append(opts, fastcgi.WithConnectTimeout(time.Duration(c.ConnectTimeoutMs)*time.Millisecond))
	}
	if c.ReadWriteTimeoutMs > 0 {
		opts = append(opts, fastcgi.WithReadWriteTimeout(time.Duration(c.ReadWriteTimeoutMs)*time.Millisecond))
	}

	switch fastcgi.Network(c.Network) {
	case fastcgi.NetworkUnix:
		if c.Path == "" {
			return fastcgi.Connection{}, errors.New("unix connection needs a path")
		}

		return fastcgi.NewUnixConnection(c.Path, opts...), nil

	case fastcgi.NetworkTCP, "":
		if c.Host == "" || c.Port <= 0 {
			return fastcgi.Connection{}, errors.Errorf("tcp connection needs host and port, got %q:%d", c.Host, c.Port)
		}

		return fastcgi.NewNetworkConnection(c.Host, c.Port, opts...), nil

	default:
		return fastcgi.Connection{}, errors.Errorf("unknown network %q", c.Network)
	}
}

//DispatcherConfig is the "dispatcher" section
type DispatcherConfig struct {
	TickMs      int `json:"tickMs"`
	PollSlackMs int `json:"pollSlackMs"`
	QueueSize   int `json:"queueSize"`
}

func (c DispatcherConfig) tick() time.Duration {
	if c.TickMs <= 0 {
		return fastcgi.DefaultTickInterval
	}

	return time.Duration(c.TickMs) * time.Millisecond
}

func (c DispatcherConfig) pollSlack() time.Duration {
	if c.PollSlackMs <= 0 {
		return fastcgi.DefaultPollSlack
	}

	return time.Duration(c.PollSlackMs) * time.Millisecond
}

//ReadSection unmarshals one section of cfg into out, returning errNoConfig
//when the section is absent
func ReadSection(cfg Config, section string, out interface{}) error {
	if cfg == nil {
		return errNoConfig
	}

	sub := cfg.Get(section)
	if sub == nil {
		return errNoConfig
	}

	return errors.Wrapf(sub.Unmarshal(out), "[%s]", section)
}

//IsNoConfig reports a missing config section
func IsNoConfig(err error) bool {
	return errors.Cause(err) == errNoConfig
}
