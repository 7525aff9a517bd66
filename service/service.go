package service

import (
	"sync"
)

//Service can serve.
type Service interface {
	//Serve serves until Stop is called.
	Serve() error

	//Stop stops the service.
	Stop()
}

const (
	// StatusUndefined when the service has not been created through its constructor.
	StatusUndefined = iota

	// StatusInactive when service has been created but does not serve yet.
	StatusInactive

	// StatusServing when service is currently serving.
	StatusServing

	// StatusStopping when service is currently stopping.
	StatusStopping

	// StatusStopped when service has stopped.
	StatusStopped
)

type state struct {
	mu     sync.Mutex
	status int
}

func (e *state) getStatus() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

func (e *state) setStatus(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *state) hasStatus(status int) bool {
	return e.getStatus() == status
}

//swapStatus moves from one status to another, reporting whether the
//service was in the expected status
func (e *state) swapStatus(from, to int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != from {
		return false
	}
	e.status = to

	return true
}
