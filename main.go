package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"fastcgi-client/fastcgi"
	"fastcgi-client/service"
)

//paramFlags collects repeated --param NAME=VALUE flags
type paramFlags map[string]string

var _ pflag.Value = paramFlags(nil)

func (p paramFlags) String() string {
	return fmt.Sprint(map[string]string(p))
}

func (p paramFlags) Set(value string) error {
	name, val, ok := strings.Cut(value, "=")
	if !ok {
		return errors.Errorf("param %q is not NAME=VALUE", value)
	}
	p[name] = val

	return nil
}

func (p paramFlags) Type() string {
	return "NAME=VALUE"
}

type options struct {
	configPath string
	network    string
	host       string
	port       int
	path       string
	script     string
	method     string
	content    string
	params     paramFlags
	repeat     int
	asJSON     bool
	verbose    bool
}

//result is what --json prints per response
type result struct {
	Headers        map[string][]string `json:"headers"`
	Body           string              `json:"body"`
	Stderr         string              `json:"stderr,omitempty"`
	ElapsedSeconds float64             `json:"elapsedSeconds"`
	Error          string              `json:"error,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{params: make(paramFlags)}

	log := logrus.New()
	log.SetOutput(os.Stderr)

	cmd := &cobra.Command{
		Use:          "fastcgi-client",
		Short:        "send requests to a FastCGI application",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			return run(log, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "JSON config file with a connection and dispatcher section")
	flags.StringVar(&opts.network, "network", "tcp", "tcp or unix")
	flags.StringVar(&opts.host, "host", "127.0.0.1", "FastCGI host")
	flags.IntVar(&opts.port, "port", 9000, "FastCGI port")
	flags.StringVar(&opts.path, "socket", "", "unix socket path")
	flags.StringVar(&opts.script, "script", "", "SCRIPT_FILENAME")
	flags.StringVarP(&opts.method, "method", "X", fastcgi.MethodGet, "REQUEST_METHOD")
	flags.StringVarP(&opts.content, "content", "d", "", "request body")
	flags.VarP(opts.params, "param", "p", "extra CGI variable, repeatable")
	flags.IntVarP(&opts.repeat, "repeat", "n", 1, "number of concurrent requests to send")
	flags.BoolVar(&opts.asJSON, "json", false, "print responses as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func run(log logrus.FieldLogger, opts options, out io.Writer) error {
	connCfg := service.ConnectionConfig{
		Network: opts.network,
		Host:    opts.host,
		Port:    opts.port,
		Path:    opts.path,
	}
	var dispatcherCfg service.DispatcherConfig

	if opts.configPath != "" {
		cfg, err := service.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}

		if err := service.ReadSection(cfg, "connection", &connCfg); err != nil && !service.IsNoConfig(err) {
			return err
		}

		if err := service.ReadSection(cfg, "dispatcher", &dispatcherCfg); err != nil && !service.IsNoConfig(err) {
			return err
		}
	}

	connection, err := connCfg.Connection()
	if err != nil {
		return err
	}

	newRequest := func() *fastcgi.CGIRequest {
		req := fastcgi.NewRequest(strings.ToUpper(opts.method), opts.script, []byte(opts.content))
		for name, value := range opts.params {
			req.SetParam(name, value)
		}

		return req
	}

	if opts.repeat <= 1 {
		client := fastcgi.NewClient(fastcgi.WithLogger(log))
		defer client.Close()

		resp, err := client.SendRequest(connection, newRequest())
		if err != nil {
			return err
		}

		return printResult(out, opts.asJSON, resp, nil)
	}

	return runConcurrent(log, opts, connection, dispatcherCfg, newRequest, out)
}

func runConcurrent(
	log logrus.FieldLogger,
	opts options,
	connection fastcgi.Connection,
	cfg service.DispatcherConfig,
	newRequest func() *fastcgi.CGIRequest,
	out io.Writer,
) error {
	d := service.NewDispatcher(log, cfg)

	var (
		mu      sync.Mutex
		handled sync.WaitGroup
	)

	report := func(resp *fastcgi.Response, err error) {
		mu.Lock()
		defer mu.Unlock()

		if perr := printResult(out, opts.asJSON, resp, err); perr != nil {
			log.Error(perr)
		}
	}

	var eg errgroup.Group
	eg.Go(d.Serve)
	eg.Go(func() error {
		defer d.Stop()

		for i := 0; i < opts.repeat; i++ {
			req := newRequest()
			req.OnResponse(func(resp *fastcgi.Response) error {
				defer handled.Done()
				report(resp, nil)
				return nil
			})
			req.OnFailure(func(err error) {
				defer handled.Done()
				report(nil, err)
			})

			handled.Add(1)
			if err := d.Submit(context.Background(), connection, req); err != nil {
				handled.Done()
				return err
			}
		}

		handled.Wait()

		return nil
	})

	return eg.Wait()
}

func printResult(out io.Writer, asJSON bool, resp *fastcgi.Response, err error) error {
	if !asJSON {
		if err != nil {
			_, werr := fmt.Fprintf(out, "error: %v\n", err)
			return werr
		}

		_, werr := io.WriteString(out, resp.Body())
		if resp.ErrorOutput() != "" {
			fmt.Fprint(os.Stderr, resp.ErrorOutput())
		}

		return werr
	}

	var r result
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Headers = resp.Headers()
		r.Body = resp.Body()
		r.Stderr = resp.ErrorOutput()
		r.ElapsedSeconds = resp.ElapsedSeconds()
	}

	b, merr := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(r)
	if merr != nil {
		return errors.Wrap(merr, "encode result")
	}

	_, werr := fmt.Fprintln(out, string(b))

	return werr
}
