package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/analyzer/internal/store"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.messages:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeProcessor struct {
	mu      sync.Mutex
	seen    []string
	flushed bool
	// writeFailures is how many times a "flaky" message fails to store.
	writeFailures int
}

func (p *fakeProcessor) ProcessMessage(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, string(data))
	switch string(data) {
	case "bad":
		return errors.New("invalid batch")
	case "flaky":
		if p.writeFailures > 0 {
			p.writeFailures--
			return &store.WriteError{Op: "commit", Err: errors.New("database is locked")}
		}
	case "down":
		return &store.WriteError{Op: "begin", Err: errors.New("disk I/O error")}
	}
	return nil
}

func (p *fakeProcessor) attempts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func (p *fakeProcessor) Flush() { p.flushed = true }

func TestConsumerRetriesStoreWriteFailures(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 2)}
	proc := &fakeProcessor{writeFailures: 2}
	c := &KafkaConsumer{reader: reader, topic: "events", processor: proc, retryBackoff: time.Millisecond}

	reader.messages <- kafka.Message{Offset: 1, Value: []byte("flaky")}
	reader.messages <- kafka.Message{Offset: 2, Value: []byte("two")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, []string{"flaky", "flaky", "flaky", "two"}, proc.attempts())
}

func TestConsumerLeavesUnstoredBatchUncommitted(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 1)}
	proc := &fakeProcessor{}
	c := &KafkaConsumer{reader: reader, topic: "events", processor: proc, retryBackoff: time.Millisecond}

	reader.messages <- kafka.Message{Offset: 7, Value: []byte("down")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(proc.attempts()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, reader.commits())
}

func TestConsumerProcessesAndCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 3)}
	proc := &fakeProcessor{}
	c := &KafkaConsumer{reader: reader, topic: "events", processor: proc}

	reader.messages <- kafka.Message{Offset: 1, Value: []byte("one")}
	reader.messages <- kafka.Message{Offset: 2, Value: []byte("bad")}
	reader.messages <- kafka.Message{Offset: 3, Value: []byte("three")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	assert.Equal(t, []string{"one", "bad", "three"}, proc.seen)

	require.NoError(t, c.Close())
	assert.True(t, proc.flushed)
	assert.True(t, reader.closed)
}
