package web

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogBuffer_SplitsLinesAndKeepsPartial(t *testing.T) {
	b := NewLogBuffer(3)
	_, _ = b.Write([]byte("a\nb\r\nc"))
	lines, dropped := b.Snapshot(10)
	require.Equal(t, []string{"a", "b"}, lines)
	require.Zero(t, dropped)

	_, _ = b.Write([]byte("d\ne\n\n"))
	lines, dropped = b.Snapshot(10)
	require.Equal(t, []string{"b", "cd", "e"}, lines)
	require.Equal(t, uint64(1), dropped)

	lines, _ = b.Snapshot(1)
	require.Equal(t, []string{"e"}, lines)
}

func TestPositionBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewPositionBroadcaster()
	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)
	_, ok := <-ch
	require.False(t, ok, "channel is closed")

	b.Unsubscribe(id)
	require.Zero(t, b.Subscribers())
}
