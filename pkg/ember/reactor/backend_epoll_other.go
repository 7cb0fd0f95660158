//go:build !linux

package reactor

import "errors"

// NewEpoll is unavailable outside Linux; callers fall back to NewPoll.
func NewEpoll() (Backend, error) {
	return nil, errors.New("reactor: epoll backend requires linux")
}
