package frame

import "sync/atomic"

// MessageStats counts messages and bytes sent on behalf of one peer
// connection. One instance may be shared across many writers; updates are
// atomic per counter, no combined snapshot.
type MessageStats struct {
	sentBytes    atomic.Uint64
	sentMessages atomic.Uint64
}

// SentMessage records one sent message of the given total wire size.
func (s *MessageStats) SentMessage(bytes uint64) {
	s.sentMessages.Add(1)
	s.sentBytes.Add(bytes)
}

func (s *MessageStats) SentBytes() uint64 { return s.sentBytes.Load() }

func (s *MessageStats) SentMessages() uint64 { return s.sentMessages.Load() }
