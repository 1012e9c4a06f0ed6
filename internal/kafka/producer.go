package kafka

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Producer mirrors room events onto a Kafka topic. It implements
// service.Notifier and never blocks the caller.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(ctx context.Context, cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}
	log.Info().Str("topic", cfg.Topic).Int("partitions", countPartitions(partitions, cfg.Topic)).Msg("kafka event export ready")

	return &Producer{writer: newWriter(cfg)}, nil
}

// Hash on the poll id keeps the events of one poll in order on one partition.
func newWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("messages", len(messages)).Msg("kafka event export failed")
			}
		},
	}
}

func countPartitions(partitions []kafka.Partition, topic string) int {
	n := 0
	for _, p := range partitions {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

func (p *Producer) Notify(event model.Event) {
	msg, err := encodeEvent(event)
	if err != nil {
		log.Error().Err(err).Str("poll", event.PollID).Str("event", event.Type).Msg("encode kafka event failed")
		return
	}
	if err := p.writer.WriteMessages(context.Background(), msg); err != nil {
		log.Warn().Err(err).Str("poll", event.PollID).Str("event", event.Type).Msg("queue kafka event failed")
	}
}

// encodeEvent keys the message by poll id.
func encodeEvent(event model.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.PollID),
		Value: data,
		Time:  event.At,
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
