package audit

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collect struct {
	mu      sync.Mutex
	entries []Entry
	gate    chan struct{}
}

func (c *collect) Append(_ context.Context, e Entry) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func TestAsyncDeliversInOrder(t *testing.T) {
	sink := &collect{}
	a := NewAsync(sink, 8, nil)
	for i := int64(1); i <= 5; i++ {
		a.Append(context.Background(), Entry{Action: "add", Entity: "outlets", RecordID: i})
	}
	require.NoError(t, a.Close(context.Background()))

	require.Len(t, sink.entries, 5)
	for i, e := range sink.entries {
		assert.Equal(t, int64(i+1), e.RecordID)
		_, err := ulid.ParseStrict(e.ID)
		assert.NoError(t, err)
		assert.False(t, e.Time.IsZero())
	}
	assert.Less(t, sink.entries[0].ID, sink.entries[4].ID)
}

func TestAsyncDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	sink := &collect{gate: make(chan struct{})}
	a := NewAsync(sink, 1, slog.New(slog.NewTextHandler(&buf, nil)))

	// первую запись забирает воркер и висит на gate, вторая лежит в буфере
	a.Append(context.Background(), Entry{RecordID: 1})
	require.Eventually(t, func() bool { return len(a.ch) == 0 }, time.Second, time.Millisecond)
	a.Append(context.Background(), Entry{RecordID: 2})

	done := make(chan struct{})
	go func() {
		a.Append(context.Background(), Entry{RecordID: 3})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked")
	}
	assert.Equal(t, int64(1), a.Dropped())
	assert.Contains(t, buf.String(), "audit queue full")

	close(sink.gate)
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, sink.entries, 2)
}

func TestRedisStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStream(client, "", 100, nil)
	s.Append(ctx, Entry{ID: NewIDs().New(time.Now()), Actor: "token:import", Action: "add", Entity: "contracts", RecordID: 7, Fields: map[string]any{"UF_NAME": "x"}})

	msgs, err := client.XRange(ctx, "hlgate:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "contracts", msgs[0].Values["entity"])
	assert.Equal(t, "7", msgs[0].Values["record"])
	assert.JSONEq(t, `{"UF_NAME":"x"}`, msgs[0].Values["fields"].(string))
}

func TestSlogAndFanout(t *testing.T) {
	var buf bytes.Buffer
	sink := &collect{}
	f := Fanout{Slog{Log: slog.New(slog.NewTextHandler(&buf, nil))}, sink}
	f.Append(context.Background(), Entry{Actor: "session", Action: "delete", Entity: "outlets", RecordID: 3})

	assert.Contains(t, buf.String(), "action=delete")
	assert.Len(t, sink.entries, 1)
}
