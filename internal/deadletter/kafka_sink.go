package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/lechuhuuha/memcload/internal/domain"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

// KafkaConfig holds configuration for the Kafka dead letter stream.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	BatchSize      int
	BatchTimeout   time.Duration
	RequireAllAcks bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes letters to a topic, keyed by cache key (or source file for
// parse failures) so replays of one key stay ordered.
type KafkaSink struct {
	writer      messageWriter
	logger      loggerpkg.Logger
	closeWriter sync.Once
}

func NewKafkaSink(cfg KafkaConfig, logr loggerpkg.Logger) (*KafkaSink, error) {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers must be provided")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "memcload-deadletter"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}

	requiredAcks := kafka.RequireOne
	if cfg.RequireAllAcks {
		requiredAcks = kafka.RequireAll
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Async:        true,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: requiredAcks,
		Balancer:     &kafka.Hash{},
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logr.Error("dead letter publish failed",
					loggerpkg.F("count", len(messages)),
					loggerpkg.Err(err))
			}
		},
	}
	return newKafkaSink(writer, logr), nil
}

func newKafkaSink(w messageWriter, logr loggerpkg.Logger) *KafkaSink {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	return &KafkaSink{writer: w, logger: logr}
}

func (s *KafkaSink) Write(ctx context.Context, letters []domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(letters))
	for i, l := range letters {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		key := l.Key
		if key == "" {
			key = l.File
		}
		messages[i] = kafka.Message{
			Key:   []byte(key),
			Value: data,
			Time:  l.Time,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(l.Kind)},
			},
		}
	}
	return s.writer.WriteMessages(ctx, messages...)
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	var err error
	s.closeWriter.Do(func() {
		err = s.writer.Close()
	})
	return err
}
