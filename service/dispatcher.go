package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fastcgi-client/fastcgi"
)

var (
	errStopped        = errors.New("dispatcher has been stopped")
	errAlreadyServing = errors.New("dispatcher is already serving")
)

type submission struct {
	connection fastcgi.Connection
	req        fastcgi.Request
	result     chan error
}

//Dispatcher makes one fastcgi.Client usable from many goroutines. Requests
//are handed over with Submit; the serving goroutine sends them and
//delivers their responses to the request callbacks as they become ready.
//Callbacks therefore run on the serving goroutine.
type Dispatcher struct {
	state

	client *fastcgi.Client
	log    logrus.FieldLogger
	tick   time.Duration

	submissions chan submission
	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
}

func NewDispatcher(log logrus.FieldLogger, cfg DispatcherConfig, opts ...fastcgi.Option) *Dispatcher {
	opts = append([]fastcgi.Option{
		fastcgi.WithLogger(log),
		fastcgi.WithPollSlack(cfg.pollSlack()),
		fastcgi.WithTickInterval(cfg.tick()),
	}, opts...)

	d := &Dispatcher{
		client:      fastcgi.NewClient(opts...),
		log:         log,
		tick:        cfg.tick(),
		submissions: make(chan submission, cfg.QueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	d.setStatus(StatusInactive)

	return d
}

//Submit hands req over to the serving goroutine and waits until it has
//been written. The returned error is the send error, if any; the outcome
//of the request itself reaches its callbacks.
func (d *Dispatcher) Submit(ctx context.Context, connection fastcgi.Connection, req fastcgi.Request) error {
	sub := submission{
		connection: connection,
		req:        req,
		result:     make(chan error, 1),
	}

	select {
	case d.submissions <- sub:
	case <-d.stop:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.result:
		return err
	case <-d.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements Service
func (d *Dispatcher) Serve() error {
	if !d.swapStatus(StatusInactive, StatusServing) {
		if d.hasStatus(StatusStopped) {
			return errStopped
		}

		return errAlreadyServing
	}

	defer close(d.done)
	defer d.setStatus(StatusStopped)

	d.log.Debug("[dispatcher]: started")

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			d.shutdown()
			return nil

		case sub := <-d.submissions:
			d.send(sub)

		case <-ticker.C:
		}

		if d.client.HasUnhandledResponses() {
			d.client.HandleReadyResponses(0)
		}
	}
}

func (d *Dispatcher) send(sub submission) {
	id, err := d.client.SendAsyncRequest(sub.connection, sub.req)
	if err != nil {
		d.log.Errorf("[dispatcher]: %s: %v", sub.connection, err)
	} else {
		d.log.WithField("socket_id", id).Debug("[dispatcher]: request accepted")
	}

	sub.result <- err
}

//shutdown refuses queued submissions, lets in-flight requests finish and
//closes the pool
func (d *Dispatcher) shutdown() {
drain:
	for {
		select {
		case sub := <-d.submissions:
			sub.result <- errStopped
		default:
			break drain
		}
	}

	if d.client.HasUnhandledResponses() {
		if err := d.client.WaitForResponses(0); err != nil {
			d.log.Debugf("[dispatcher]: %v", err)
		}
	}

	if err := d.client.Close(); err != nil {
		d.log.Errorf("[dispatcher]: %v", err)
	}

	d.log.Debug("[dispatcher]: stopped")
}

// Stop implements Service. It blocks until in-flight requests are handled.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)

		//either Serve never started and will refuse to, or it owns done
		if d.swapStatus(StatusInactive, StatusStopped) {
			return
		}

		d.swapStatus(StatusServing, StatusStopping)
		<-d.done
	})
}

//Status is one of the Status constants
func (d *Dispatcher) Status() int {
	return d.getStatus()
}

//Stats reads the pool of the underlying client. It must not be called
//while the dispatcher is serving.
func (d *Dispatcher) Stats() fastcgi.PoolStats {
	return d.client.Pool().Stats()
}
