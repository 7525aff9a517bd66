package fastcgi

import (
	"iter"
	"time"

	"github.com/sirupsen/logrus"
)

//Client dispatches requests to FastCGI applications over pooled sockets.
//A Client is not safe for concurrent use; one goroutine drives all of its
//sockets.
type Client struct {
	log          logrus.FieldLogger
	metrics      *Metrics
	pollSlack    time.Duration
	tickInterval time.Duration
	idLimit      uint32

	pool *SocketPool
}

type Option func(c *Client)

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

//WithPollSlack bounds how long a readiness probe may wait for data
func WithPollSlack(d time.Duration) Option {
	return func(c *Client) {
		c.pollSlack = d
	}
}

//WithTickInterval sets the sleep between passes of the blocking wait loops
func WithTickInterval(d time.Duration) Option {
	return func(c *Client) {
		c.tickInterval = d
	}
}

//WithSocketIDLimit caps socket ids to [1, limit]
func WithSocketIDLimit(limit uint32) Option {
	return func(c *Client) {
		c.idLimit = limit
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		log:          logrus.StandardLogger(),
		pollSlack:    DefaultPollSlack,
		tickInterval: DefaultTickInterval,
	}

	for _, fn := range opts {
		fn(c)
	}

	c.pool = newSocketPool(c.log, c.metrics, c.pollSlack, c.idLimit)

	return c
}

func (c *Client) Pool() *SocketPool {
	return c.pool
}

//SendRequest sends req and blocks until its response is read
func (c *Client) SendRequest(connection Connection, req Request) (*Response, error) {
	s, err := c.send(connection, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetch(s, 0)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

//SendAsyncRequest sends req and returns the id of the socket carrying it
//without waiting for the response
func (c *Client) SendAsyncRequest(connection Connection, req Request) (SocketID, error) {
	s, err := c.send(connection, req)
	if err != nil {
		return 0, err
	}

	return s.ID(), nil
}

func (c *Client) send(connection Connection, req Request) (*Socket, error) {
	s := c.pool.FindIdle(connection)
	if s == nil {
		var err error
		if s, err = c.pool.Allocate(connection); err != nil {
			return nil, err
		}
	}

	if err := s.SendRequest(req); err != nil {
		//a transport that failed for any reason other than a timeout must
		//not be offered again
		if !IsTimeoutError(err) {
			c.pool.evict(s.ID(), "send failed")
		}

		return nil, err
	}

	c.metrics.sent()
	c.log.WithFields(logrus.Fields{
		"socket_id":  s.ID(),
		"connection": connection.String(),
	}).Debug("request sent")

	return s, nil
}

//fetch reads the socket's response; a socket whose read fails is evicted
func (c *Client) fetch(s *Socket, timeout time.Duration) (*Response, error) {
	resp, err := s.FetchResponse(timeout)
	c.metrics.responded(resp, err)

	if err != nil {
		c.pool.evict(s.ID(), "read failed")
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"socket_id": s.ID(),
		"duration":  resp.Duration(),
	}).Debug("response read")

	return resp, nil
}

//fetchAndNotify routes the outcome of a read to the socket's callbacks
func (c *Client) fetchAndNotify(s *Socket, timeout time.Duration) {
	resp, err := c.fetch(s, timeout)
	if err == nil {
		err = s.notifyResponseCallbacks(resp)
	}

	if err != nil {
		s.notifyFailureCallbacks(err)
	}
}

//ReadResponse blocks until the response on socket id is read. timeout
//overrides the connection's read/write timeout when positive.
func (c *Client) ReadResponse(id SocketID, timeout time.Duration) (*Response, error) {
	s, err := c.pool.Lookup(id)
	if err != nil {
		return nil, err
	}

	return c.fetch(s, timeout)
}

//ReadResponses yields the responses of ids in the order given. Unknown ids
//and failed reads are skipped.
func (c *Client) ReadResponses(timeout time.Duration, ids ...SocketID) iter.Seq2[SocketID, *Response] {
	return func(yield func(SocketID, *Response) bool) {
		for _, id := range ids {
			resp, err := c.ReadResponse(id, timeout)
			if err != nil {
				c.log.WithField("socket_id", id).Debugf("skipping response: %v", err)
				continue
			}

			if !yield(id, resp) {
				return
			}
		}
	}
}

func (c *Client) HasResponse(id SocketID) bool {
	s, err := c.pool.Lookup(id)
	if err != nil {
		return false
	}

	return s.HasResponse()
}

//SocketIDsHavingResponse lists busy sockets with a response waiting, in
//allocation order
func (c *Client) SocketIDsHavingResponse() []SocketID {
	var ids []SocketID
	for _, s := range c.pool.ListReady(0) {
		ids = append(ids, s.ID())
	}

	return ids
}

//WaitForResponse polls socket id until its response arrives, then hands it
//to the request's callbacks. Failures, including a failing response
//callback, go to the failure callbacks.
func (c *Client) WaitForResponse(id SocketID, timeout time.Duration) error {
	s, err := c.pool.Lookup(id)
	if err != nil {
		return err
	}

	//a handled response is not delivered twice
	if !s.IsBusy() {
		return nil
	}

	start := time.Now()
	for !s.ready(timeout) {
		if timeout > 0 && time.Since(start) >= timeout {
			break
		}

		time.Sleep(c.tickInterval)
	}

	c.fetchAndNotify(s, timeout)

	return nil
}

//WaitForResponses handles every outstanding request through its callbacks,
//in completion order, and returns once none is left.
func (c *Client) WaitForResponses(timeout time.Duration) error {
	if !c.pool.HasBusy() {
		return readError(ErrNoPendingRequests, "wait for responses")
	}

	for c.pool.HasBusy() {
		ready := c.pool.ListReady(timeout)

		for _, s := range ready {
			c.fetchAndNotify(s, timeout)
		}

		if len(ready) == 0 {
			time.Sleep(c.tickInterval)
		}
	}

	return nil
}

func (c *Client) HasUnhandledResponses() bool {
	return c.pool.HasBusy()
}

//ReadReadyResponses makes one non-blocking pass over the busy sockets and
//yields each response that is ready, or the error reading it.
func (c *Client) ReadReadyResponses(timeout time.Duration) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		for _, s := range c.pool.ListReady(timeout) {
			if !yield(c.fetch(s, timeout)) {
				return
			}
		}
	}
}

//HandleReadyResponses is ReadReadyResponses with the results delivered to
//callbacks
func (c *Client) HandleReadyResponses(timeout time.Duration) {
	for _, s := range c.pool.ListReady(timeout) {
		c.fetchAndNotify(s, timeout)
	}
}

//HandleResponse reads the response on socket id and delivers it to the
//request's callbacks. Only an unknown id is returned as an error. A socket
//whose response was already handled is left alone.
func (c *Client) HandleResponse(id SocketID, timeout time.Duration) error {
	s, err := c.pool.Lookup(id)
	if err != nil {
		return err
	}

	if !s.IsBusy() {
		return nil
	}

	c.fetchAndNotify(s, timeout)

	return nil
}

//HandleResponses handles ids in the order given, skipping unknown ones
func (c *Client) HandleResponses(timeout time.Duration, ids ...SocketID) {
	for _, id := range ids {
		if err := c.HandleResponse(id, timeout); err != nil {
			c.log.WithField("socket_id", id).Debugf("skipping response: %v", err)
		}
	}
}

//Close closes every pooled socket
func (c *Client) Close() error {
	c.pool.Close()

	return nil
}
