package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/andrej220/gsh/pkg/config"
	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/models"
	"github.com/andrej220/gsh/pkg/remote"
)

// messageWriter is the slice of kafka.Writer the hook uses; tests swap
// in a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHook publishes every remote output line as a JSON LineEvent,
// keyed by hostname so one host's lines stay in partition order.
// Publishing goes through a circuit breaker and a bounded exponential
// retry; once the broker is declared down the hook fails fast and the
// affected tasks fail with it.
type KafkaHook struct {
	runID  string
	writer messageWriter
	cb     *gobreaker.CircuitBreaker
	log    lg.Logger

	maxElapsed time.Duration
}

func NewKafkaHook(cfg config.KafkaConfig, runID string, log lg.Logger) *KafkaHook {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return newKafkaHook(w, runID, log)
}

func newKafkaHook(w messageWriter, runID string, log lg.Logger) *KafkaHook {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-hook",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &KafkaHook{
		runID:      runID,
		writer:     w,
		cb:         cb,
		log:        log,
		maxElapsed: 10 * time.Second,
	}
}

func (k *KafkaHook) Notify(host string, stream remote.StreamName, line []byte) error {
	event := models.LineEvent{
		RunID:  k.runID,
		Host:   host,
		Stream: string(stream),
		Line:   line,
		Time:   time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal line event: %w", err)
	}
	msg := kafka.Message{Key: []byte(host), Value: payload}

	operation := func() error {
		_, err := k.cb.Execute(func() (any, error) {
			return nil, k.writer.WriteMessages(context.Background(), msg)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		k.log.Warn("kafka publish failed, retrying",
			lg.String("host", host),
			lg.Duration("backoff", next),
			lg.Err(err))
	}
	if err := backoff.RetryNotify(operation, k.newBackOff(), notify); err != nil {
		return fmt.Errorf("publish %s line: %w", host, err)
	}
	return nil
}

func (k *KafkaHook) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      k.maxElapsed,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func (k *KafkaHook) Close() error {
	return k.writer.Close()
}
