package client

import "sync/atomic"

// UnreadCounter is the local user's unread tally. Only the multiplexer
// increments it; readers may call Get from any goroutine.
type UnreadCounter struct {
	n atomic.Int64
}

func (u *UnreadCounter) increment() int64 {
	return u.n.Add(1)
}

// Set replaces the count, clamping negative values to zero.
func (u *UnreadCounter) Set(v int64) {
	if v < 0 {
		v = 0
	}
	u.n.Store(v)
}

func (u *UnreadCounter) Get() int64 {
	return u.n.Load()
}
