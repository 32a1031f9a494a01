package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers a single encoded record to the event bus.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaPublisher publishes records to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher writing to topic across brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Emitter accepts observation records and hands them to a background sender
// over a bounded channel. Publish is fire-and-forget: it never blocks the
// request path and never surfaces a publisher error to the caller. Overflow
// drops the oldest queued record and increments a counter, keeping the
// newest observations.
type Emitter struct {
	logger    *slog.Logger
	publisher Publisher

	queue   chan Record
	dropped atomic.Uint64
	sent    atomic.Uint64

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewEmitter creates an emitter with the given queue capacity. A nil
// publisher is valid and turns Publish into a no-op, used when no
// KAFKA_BROKERS are configured.
func NewEmitter(publisher Publisher, queueSize int, logger *slog.Logger) *Emitter {
	if queueSize <= 0 {
		queueSize = 4096
	}
	e := &Emitter{
		logger:    logger,
		publisher: publisher,
		queue:     make(chan Record, queueSize),
		stop:      make(chan struct{}),
	}
	if publisher != nil {
		e.wg.Add(1)
		go e.run()
	}
	return e
}

// Publish enqueues record for background delivery. Never blocks. On a full
// queue the oldest queued record is dropped to make room, so Publish always
// succeeds in bounded time and the newest records are the ones kept.
func (e *Emitter) Publish(record Record) {
	if e.publisher == nil {
		return
	}
	for {
		select {
		case e.queue <- record:
			return
		default:
		}

		select {
		case <-e.queue:
			e.dropped.Add(1)
		default:
		}
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case record := <-e.queue:
			e.deliver(record)
		}
	}
}

func (e *Emitter) deliver(record Record) {
	value, err := json.Marshal(record)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("events: failed to marshal record", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.publisher.Publish(ctx, record.Fingerprint, value); err != nil {
		if e.logger != nil {
			e.logger.Warn("events: publish failed", "error", err)
		}
		return
	}
	e.sent.Add(1)
}

// Stats is a point-in-time snapshot of emitter counters.
type Stats struct {
	Sent    uint64
	Dropped uint64
	Queued  int
}

func (e *Emitter) Snapshot() Stats {
	return Stats{Sent: e.sent.Load(), Dropped: e.dropped.Load(), Queued: len(e.queue)}
}

// Close stops the background sender and releases the publisher.
func (e *Emitter) Close() error {
	if e.publisher == nil {
		return nil
	}
	close(e.stop)
	e.wg.Wait()
	return e.publisher.Close()
}
