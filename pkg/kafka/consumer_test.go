package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// scriptedReader serves a fixed message sequence and records commits. Once
// the sequence is exhausted, FetchMessage blocks until ctx is cancelled.
type scriptedReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	next     int
	commits  []int64
	done     chan struct{}
}

func newScriptedReader(msgs ...kafka.Message) *scriptedReader {
	return &scriptedReader{messages: msgs, done: make(chan struct{})}
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.messages) {
		msg := r.messages[r.next]
		r.next++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.commits = append(r.commits, msg.Offset)
	}
	if len(r.commits) == len(r.messages) {
		close(r.done)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func TestStartRetriesFailedMessageBeforeAdvancing(t *testing.T) {
	reader := newScriptedReader(
		kafka.Message{Offset: 0, Value: []byte("first")},
		kafka.Message{Offset: 1, Value: []byte("second")},
	)

	var mu sync.Mutex
	attempts := make(map[int64]int)
	var order []string
	handler := func(ctx context.Context, key, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, string(value))
		switch string(value) {
		case "first":
			attempts[0]++
			if attempts[0] < 3 {
				return errors.New("store unavailable")
			}
		case "second":
			attempts[1]++
		}
		return nil
	}

	c := &Consumer{
		reader:     reader,
		logger:     slog.Default(),
		handler:    handler,
		retryDelay: time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	select {
	case <-reader.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for both messages to commit")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[0] != 3 {
		t.Fatalf("attempts on offset 0 = %d, want 3", attempts[0])
	}
	if attempts[1] != 1 {
		t.Fatalf("attempts on offset 1 = %d, want 1", attempts[1])
	}
	// The failing message must be retried in place, never leapfrogged by
	// the next one.
	want := []string{"first", "first", "first", "second"}
	if len(order) != len(want) {
		t.Fatalf("handler order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handler order = %v, want %v", order, want)
		}
	}
	commits := reader.committed()
	if len(commits) != 2 || commits[0] != 0 || commits[1] != 1 {
		t.Fatalf("committed offsets = %v, want [0 1]", commits)
	}
}
