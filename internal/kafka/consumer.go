package kafka

import (
	"context"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Handler return nil kalau sukses. Error akan di-retry beberapa kali; setelah
// itu pesan di-log lalu tetap di-commit supaya partisi tidak macet.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type Consumer struct {
	r       *kafka.Reader
	topic   string
	workers int

	Attempts int
	Backoff  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, topic: topic, workers: workers, Attempts: defaultAttempts, Backoff: defaultBackoff}
}

// handle runs h until it succeeds, attempts runs out or ctx ends. The wait
// doubles after every failure.
func handle(ctx context.Context, h Handler, m kafka.Message, attempts int, backoff time.Duration) error {
	attempts = max(attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff << i):
		}
	}
	return err
}

// Start blocks until ctx is done or the reader fails.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	var wg sync.WaitGroup

	// workers
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				lg := log.With().Str("topic", m.Topic).Int64("offset", m.Offset).Int("worker", id).Logger()
				if err := handle(ctx, h, m, c.Attempts, c.Backoff); err != nil {
					if ctx.Err() != nil {
						// shutdown: offset ini tidak di-commit
						continue
					}
					lg.Error().Err(err).Int("attempts", c.Attempts).Str("key", string(m.Key)).Msg("message dropped")
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					lg.Error().Err(err).Msg("commit failed")
				}
			}
		}(i)
	}
	defer wg.Wait()

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}
	}
}
