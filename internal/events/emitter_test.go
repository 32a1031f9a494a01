package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	fail      bool
}

func (f *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, value)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestPublishDeliversAsynchronously(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, 16, nil)
	defer e.Close()

	e.Publish(Record{URL: "http://example.com", Fingerprint: "abc"})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), e.Snapshot().Sent)

	var decoded Record
	require.NoError(t, json.Unmarshal(pub.published[0], &decoded))
	assert.Equal(t, "http://example.com", decoded.URL)
}

func TestPublishNeverBlocksOnOverflow(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, 1, nil)
	defer e.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Publish(Record{URL: "http://example.com"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked under overflow")
	}
}

func TestNilPublisherIsNoOp(t *testing.T) {
	e := NewEmitter(nil, 16, nil)
	defer e.Close()
	e.Publish(Record{URL: "http://example.com"})
	assert.Equal(t, uint64(0), e.Snapshot().Sent)
}

func TestPublishFailureDoesNotPanicOrBlock(t *testing.T) {
	pub := &fakePublisher{fail: true}
	e := NewEmitter(pub, 16, nil)
	defer e.Close()

	e.Publish(Record{URL: "http://example.com"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), e.Snapshot().Sent)
}
