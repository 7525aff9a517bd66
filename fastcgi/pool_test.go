package fastcgi

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(idLimit uint32) *SocketPool {
	return newSocketPool(logrus.StandardLogger(), nil, DefaultPollSlack, idLimit)
}

func TestPoolAllocateUniqueIDs(t *testing.T) {
	p := testPool(0)
	connection := NewNetworkConnection("127.0.0.1", 9000)

	seen := make(map[SocketID]bool)
	for i := 0; i < 200; i++ {
		s, err := p.Allocate(connection)
		require.NoError(t, err)
		require.False(t, seen[s.ID()], "id %d handed out twice", s.ID())
		require.NotZero(t, s.ID())

		seen[s.ID()] = true
	}

	require.Equal(t, 200, p.Len())
}

func TestPoolAllocateExhausted(t *testing.T) {
	p := testPool(1)
	connection := NewNetworkConnection("127.0.0.1", 9000)

	s, err := p.Allocate(connection)
	require.NoError(t, err)
	require.Equal(t, SocketID(1), s.ID())

	_, err = p.Allocate(connection)
	require.True(t, IsWriteError(err))
	require.True(t, errors.Is(err, ErrSocketIDExhausted))

	//a freed id becomes available again
	p.Remove(s.ID())
	s, err = p.Allocate(connection)
	require.NoError(t, err)
	require.Equal(t, SocketID(1), s.ID())
}

func TestPoolLookupAndRemove(t *testing.T) {
	p := testPool(0)

	s, err := p.Allocate(NewUnixConnection("/tmp/php-fpm.sock"))
	require.NoError(t, err)

	found, err := p.Lookup(s.ID())
	require.NoError(t, err)
	require.Same(t, s, found)

	p.Remove(s.ID())
	p.Remove(s.ID())

	_, err = p.Lookup(s.ID())
	require.True(t, IsReadError(err))
	require.True(t, errors.Is(err, ErrUnknownSocket))
	require.Zero(t, p.Len())
}

func TestPoolFindIdle(t *testing.T) {
	p := testPool(0)
	a := NewNetworkConnection("127.0.0.1", 9000)
	b := NewNetworkConnection("127.0.0.1", 9000, WithReadWriteTimeout(time.Second))

	require.Nil(t, p.FindIdle(a))

	sa, err := p.Allocate(a)
	require.NoError(t, err)

	require.Same(t, sa, p.FindIdle(a))
	require.Nil(t, p.FindIdle(b), "timeouts are part of the connection identity")

	sa.status = socketBusy
	require.Nil(t, p.FindIdle(a))
	require.True(t, p.HasBusy())

	sa.status = socketIdle
	sa.broken = true
	require.Nil(t, p.FindIdle(a))
	require.Zero(t, p.Len(), "unusable idle socket is reaped")
}

func TestPoolKeepsAllocationOrder(t *testing.T) {
	p := testPool(0)
	connection := NewNetworkConnection("127.0.0.1", 9000)

	var want []SocketID
	for i := 0; i < 20; i++ {
		s, err := p.Allocate(connection)
		require.NoError(t, err)
		want = append(want, s.ID())
	}

	p.Remove(want[3])
	want = append(want[:3], want[4:]...)

	assert.Equal(t, want, p.IDs())
}

func TestPoolStats(t *testing.T) {
	p := testPool(0)
	connection := NewNetworkConnection("127.0.0.1", 9000)

	for i := 0; i < 3; i++ {
		_, err := p.Allocate(connection)
		require.NoError(t, err)
	}

	s, err := p.Lookup(p.IDs()[0])
	require.NoError(t, err)
	s.status = socketBusy

	assert.Equal(t, PoolStats{Total: 3, Idle: 2, Busy: 1}, p.Stats())

	p.Close()
	assert.Zero(t, p.Len())
}
