package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed map[int][]int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs, committed: map[int][]int64{}}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed[m.Partition] = append(f.committed[m.Partition], m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) offsets(partition int) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed[partition]...)
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Partition: partition, Offset: offset}
}

// run starts c in the background and returns a func that stops it.
func run(t *testing.T, c *Consumer, h Handler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumerRetriesFailedMessageBeforeCommittingPast(t *testing.T) {
	r := newFakeReader(msg(0, 0), msg(0, 1), msg(1, 0), msg(0, 2), msg(1, 1))
	c := &Consumer{r: r, workers: 4, retryDelay: time.Millisecond, log: zap.NewNop()}

	var mu sync.Mutex
	attempts := map[int64]int{}
	stop := run(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Partition != 0 {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 1 && attempts[1] < 3 {
			return errors.New("redis down")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(r.offsets(0)) == 3 && len(r.offsets(1)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int64{0, 1, 2}, r.offsets(0))
	assert.Equal(t, []int64{0, 1}, r.offsets(1))
	mu.Lock()
	assert.Equal(t, 3, attempts[1])
	assert.Equal(t, 1, attempts[2])
	mu.Unlock()
	assert.True(t, r.closed)
}

func TestConsumerStuckPartitionCommitsNothingAfterFailure(t *testing.T) {
	r := newFakeReader(msg(0, 0), msg(0, 1), msg(0, 2), msg(1, 0))
	c := &Consumer{r: r, workers: 2, retryDelay: time.Millisecond, log: zap.NewNop()}

	stop := run(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Partition == 0 && m.Offset == 1 {
			return errors.New("always broken")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(r.offsets(0)) == 1 && len(r.offsets(1)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	// offset 2 tidak boleh ter-commit melewati offset 1 yang gagal
	assert.Equal(t, []int64{0}, r.offsets(0))
	assert.Equal(t, []int64{0}, r.offsets(1))
}
