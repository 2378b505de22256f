package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/models"
	"github.com/andrej220/gsh/pkg/remote"
)

// fakeWriter fails the first `failures` writes (forever when -1) and
// records the rest.
type fakeWriter struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	msgs     []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestKafkaHookPublishesLineEvent(t *testing.T) {
	fw := &fakeWriter{}
	hook := newKafkaHook(fw, "run-1", lg.Discard)

	require.NoError(t, hook.Notify("web1", remote.StreamStdout, []byte("hello")))

	require.Len(t, fw.msgs, 1)
	assert.Equal(t, []byte("web1"), fw.msgs[0].Key)

	var event models.LineEvent
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &event))
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "web1", event.Host)
	assert.Equal(t, "stdout", event.Stream)
	assert.Equal(t, []byte("hello"), event.Line)
	assert.False(t, event.Time.IsZero())
}

func TestKafkaHookKeepsRawBytes(t *testing.T) {
	fw := &fakeWriter{}
	hook := newKafkaHook(fw, "run-1", lg.Discard)

	raw := []byte{0xff, 0xfe, 'o', 'k'} // not valid UTF-8
	require.NoError(t, hook.Notify("web1", remote.StreamStdout, raw))

	var event models.LineEvent
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &event))
	assert.Equal(t, raw, event.Line)
}

func TestKafkaHookRetriesTransientFailures(t *testing.T) {
	fw := &fakeWriter{failures: 2, err: errors.New("broker down")}
	hook := newKafkaHook(fw, "run-1", lg.Discard)
	hook.maxElapsed = 30 * time.Second

	require.NoError(t, hook.Notify("web1", remote.StreamStdout, []byte("hello")))

	assert.Equal(t, 3, fw.calls)
	assert.Len(t, fw.msgs, 1)
}

func TestKafkaHookGivesUpEventually(t *testing.T) {
	fw := &fakeWriter{failures: -1, err: errors.New("broker down")}
	hook := newKafkaHook(fw, "run-1", lg.Discard)
	hook.maxElapsed = 200 * time.Millisecond

	err := hook.Notify("web1", remote.StreamStdout, []byte("hello"))
	assert.ErrorContains(t, err, "publish web1 line")
	assert.Empty(t, fw.msgs)
}

func TestKafkaHookFailsFastWhenBreakerOpen(t *testing.T) {
	fw := &fakeWriter{}
	hook := newKafkaHook(fw, "run-1", lg.Discard)
	for i := 0; i < 6; i++ {
		_, _ = hook.cb.Execute(func() (any, error) {
			return nil, errors.New("broker down")
		})
	}

	start := time.Now()
	err := hook.Notify("web1", remote.StreamStdout, []byte("hello"))

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, fw.calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestKafkaHookClose(t *testing.T) {
	fw := &fakeWriter{}
	hook := newKafkaHook(fw, "run-1", lg.Discard)

	require.NoError(t, hook.Close())
	assert.True(t, fw.closed)
}
