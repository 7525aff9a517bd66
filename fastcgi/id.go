package fastcgi

import (
	"math/rand/v2"
)

//SocketID identifies a socket within its pool. It doubles as the FastCGI
//request id of the socket's exchange.
type SocketID uint16

const (
	maxSocketID = 65535

	//draws attempted before giving up on finding a free id
	idDrawAttempts = 10
)

type idPool struct {
	limit uint16
	taken func(id SocketID) bool
}

func newIDs(limit uint32, taken func(id SocketID) bool) idPool {
	if limit == 0 || limit > maxSocketID {
		limit = maxSocketID
	}

	return idPool{
		limit: uint16(limit),
		taken: taken,
	}
}

//Alloc draws a random id in [1, limit] not currently taken
func (p idPool) Alloc() (SocketID, error) {
	for i := 0; i < idDrawAttempts; i++ {
		id := SocketID(rand.IntN(int(p.limit)) + 1)

		if !p.taken(id) {
			return id, nil
		}
	}

	return 0, writeError(ErrSocketIDExhausted, "after %d attempts", idDrawAttempts)
}
