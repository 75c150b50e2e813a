package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(t.Context(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestQuoteCache_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteCache(c, time.Minute)

	at := time.Date(2026, 6, 1, 12, 0, 0, 123, time.UTC)
	q := domain.Quote{Venue: "alpha", Instrument: "BTC-USD", Bid: 99.5, Ask: 100.25, Last: 100, ObservedAt: at}
	require.NoError(t, qc.SetQuote(t.Context(), q))

	got, err := qc.GetQuote(t.Context(), "alpha", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, q, got)
	assert.Equal(t, time.Minute, mr.TTL("quote:alpha:BTC-USD"))

	_, err = qc.GetQuote(t.Context(), "beta", "BTC-USD")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteCache_SetSnapshot(t *testing.T) {
	c, _ := newTestClient(t)
	qc := NewQuoteCache(c, 0)

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.Snapshot{Seq: 3, TakenAt: at, Quotes: map[string][]domain.Quote{
		"BTC-USD": {
			{Venue: "alpha", Instrument: "BTC-USD", Bid: 1, Ask: 2, ObservedAt: at},
			{Venue: "beta", Instrument: "BTC-USD", Bid: 3, Ask: 4, ObservedAt: at},
		},
	}}
	require.NoError(t, qc.SetSnapshot(t.Context(), snap))

	got, err := qc.GetQuote(t.Context(), "beta", "BTC-USD")
	require.NoError(t, err)
	assert.InDelta(t, 3, got.Bid, 1e-12)
	assert.InDelta(t, 4, got.Ask, 1e-12)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(t.Context(), "submit:alpha", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(t.Context(), "submit:alpha", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "third call in the window")

	ok, err = rl.Allow(t.Context(), "submit:beta", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(1001 * time.Millisecond)
	ok, err = rl.Allow(t.Context(), "submit:alpha", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid")
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Now()
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Wait(t.Context(), "k", 1, time.Hour))

	ctx, cancel := context.WithTimeout(t.Context(), 120*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "k", 1, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(t.Context(), "exec:a", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(t.Context(), "exec:a", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:exec:a"))

	unlock2, err := lm.Acquire(t.Context(), "exec:a", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockManager_UnlockKeepsForeignToken(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(t.Context(), "exec:b", time.Minute)
	require.NoError(t, err)

	// Simulate expiry followed by another holder taking the lock.
	require.NoError(t, mr.Set("lock:exec:b", "someone-else"))
	unlock()

	v, err := mr.Get("lock:exec:b")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)

	ch, err := sb.Subscribe(t.Context(), domain.ChannelOpportunity)
	require.NoError(t, err)

	require.NoError(t, sb.Publish(t.Context(), domain.ChannelOpportunity, []byte(`{"id":"x"}`)))
	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"x"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSignalBus_Streams(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(t.Context(), domain.StreamExecutions, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(t.Context(), domain.StreamExecutions, []byte("one")))
	require.NoError(t, sb.StreamAppend(t.Context(), domain.StreamExecutions, []byte("two")))

	msgs, err = sb.StreamRead(t.Context(), domain.StreamExecutions, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))

	rest, err := sb.StreamRead(t.Context(), domain.StreamExecutions, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0].Payload))
}
