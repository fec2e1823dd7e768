package fusion

import (
	"sync/atomic"
	"time"
)

// Published is one FusedPosition as handed to egress tasks.
type Published struct {
	Position    FusedPosition `json:"position"`
	Seq         uint64        `json:"seq"`
	PublishedAt time.Time     `json:"published_at"`
}

// Latest holds the last successfully fused position. One task publishes;
// any number of tasks read. Readers always see a complete value.
type Latest struct {
	v   atomic.Pointer[Published]
	seq atomic.Uint64
}

// Publish replaces the held value and returns its sequence number.
func (l *Latest) Publish(p FusedPosition, now time.Time) uint64 {
	seq := l.seq.Add(1)
	l.v.Store(&Published{Position: p, Seq: seq, PublishedAt: now})
	return seq
}

// Load returns the held value; ok is false before the first Publish.
func (l *Latest) Load() (Published, bool) {
	if l == nil {
		return Published{}, false
	}
	p := l.v.Load()
	if p == nil {
		return Published{}, false
	}
	return *p, true
}

// PositionOrUnavailable returns the held position, or Unavailable() if
// nothing has been published yet.
func (l *Latest) PositionOrUnavailable() FusedPosition {
	if p, ok := l.Load(); ok {
		return p.Position
	}
	return Unavailable()
}
