package fastcgi

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

//SocketPool holds the sockets of one Client, keyed by id and kept in
//allocation order.
type SocketPool struct {
	log       logrus.FieldLogger
	metrics   *Metrics
	pollSlack time.Duration

	ids     idPool
	sockets map[SocketID]*Socket
	order   []SocketID
}

//PoolStats is a point-in-time view of a pool
type PoolStats struct {
	Total int
	Idle  int
	Busy  int
}

func newSocketPool(log logrus.FieldLogger, metrics *Metrics, pollSlack time.Duration, idLimit uint32) *SocketPool {
	p := &SocketPool{
		log:       log,
		metrics:   metrics,
		pollSlack: pollSlack,
		sockets:   make(map[SocketID]*Socket),
	}
	p.ids = newIDs(idLimit, p.has)

	return p
}

func (p *SocketPool) has(id SocketID) bool {
	_, ok := p.sockets[id]
	return ok
}

//Allocate creates a fresh socket bound to connection
func (p *SocketPool) Allocate(connection Connection) (*Socket, error) {
	id, err := p.ids.Alloc()
	if err != nil {
		p.log.WithField("connection", connection.String()).Warnf("socket allocation failed: %v", err)
		return nil, err
	}

	s := newSocket(id, connection, p.pollSlack)
	p.sockets[id] = s
	p.order = append(p.order, id)
	p.metrics.allocated()

	p.log.WithFields(logrus.Fields{
		"socket_id":  id,
		"connection": connection.String(),
	}).Debug("socket allocated")

	return s, nil
}

//FindIdle returns the first idle, usable socket bound to connection.
//Idle sockets of that connection whose transport went bad are reaped on
//the way.
func (p *SocketPool) FindIdle(connection Connection) *Socket {
	for _, id := range append([]SocketID(nil), p.order...) {
		s := p.sockets[id]

		if !s.Connection().Equal(connection) || !s.IsIdle() {
			continue
		}

		if !s.IsUsable() {
			p.evict(id, "unusable")
			continue
		}

		p.metrics.reused()
		p.log.WithFields(logrus.Fields{
			"socket_id":  id,
			"connection": connection.String(),
		}).Debug("socket reused")

		return s
	}

	return nil
}

func (p *SocketPool) HasBusy() bool {
	for _, id := range p.order {
		if p.sockets[id].IsBusy() {
			return true
		}
	}

	return false
}

//ListReady returns busy sockets that have a response waiting, in
//allocation order. The busy sockets are checked together, so one pass waits
//at most one poll slack. timeout is the expiry each check applies.
func (p *SocketPool) ListReady(timeout time.Duration) []*Socket {
	var busy []*Socket
	for _, id := range p.order {
		if s := p.sockets[id]; s.IsBusy() {
			busy = append(busy, s)
		}
	}

	ok := make([]bool, len(busy))

	var eg errgroup.Group
	for i, s := range busy {
		eg.Go(func() error {
			ok[i] = s.ready(timeout)
			return nil
		})
	}
	_ = eg.Wait()

	var ready []*Socket
	for i, s := range busy {
		if ok[i] {
			ready = append(ready, s)
		}
	}

	return ready
}

func (p *SocketPool) Lookup(id SocketID) (*Socket, error) {
	s, ok := p.sockets[id]
	if !ok {
		return nil, readError(ErrUnknownSocket, "socket %d", id)
	}

	return s, nil
}

//Remove closes the socket and forgets it; unknown ids are ignored
func (p *SocketPool) Remove(id SocketID) {
	s, ok := p.sockets[id]
	if !ok {
		return
	}

	delete(p.sockets, id)

	for i, other := range p.order {
		if other == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	if err := s.Close(); err != nil {
		p.log.WithField("socket_id", id).Debugf("closing socket: %v", err)
	}
}

func (p *SocketPool) evict(id SocketID, reason string) {
	if s, ok := p.sockets[id]; ok {
		p.log.WithFields(logrus.Fields{
			"socket_id":  id,
			"connection": s.Connection().String(),
			"reason":     reason,
		}).Warn("socket evicted")
	}

	p.metrics.evicted(reason)
	p.Remove(id)
}

func (p *SocketPool) Len() int {
	return len(p.sockets)
}

func (p *SocketPool) IDs() []SocketID {
	return append([]SocketID(nil), p.order...)
}

func (p *SocketPool) Stats() PoolStats {
	stats := PoolStats{Total: len(p.sockets)}

	for _, s := range p.sockets {
		if s.IsBusy() {
			stats.Busy++
		} else {
			stats.Idle++
		}
	}

	return stats
}

//Close closes every socket and empties the pool
func (p *SocketPool) Close() {
	for _, id := range p.IDs() {
		p.Remove(id)
	}
}
