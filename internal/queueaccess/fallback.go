package queueaccess

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"sdqueue/internal/daemon"
	"sdqueue/internal/ipc"
)

// Session represents an access handle and its cleanup function.
type Session struct {
	Access Access
	// Remote is true when a running daemon serves the session.
	Remote bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// NoDaemon reports whether a dial error means nothing listens on the socket.
func NoDaemon(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist)
}

// OpenWithFallback tries IPC-backed access first, then opens the daemon
// offline. Dial failures other than an absent daemon are returned as is.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openDaemon func() (*daemon.Daemon, error),
) (Session, error) {
	if dial != nil {
		client, err := dial()
		if err == nil {
			return Session{
				Access: NewIPCAccess(client),
				Remote: true,
				close:  client.Close,
			}, nil
		}
		if !NoDaemon(err) {
			return Session{}, fmt.Errorf("connect to daemon: %w", err)
		}
	}

	if openDaemon == nil {
		return Session{}, errors.New("open job store: no daemon opener configured")
	}
	d, err := openDaemon()
	if err != nil {
		return Session{}, err
	}
	return Session{Access: d, close: d.Close}, nil
}
