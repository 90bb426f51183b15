// Package messaging はoutboxのイベントをKafkaへ流す。
package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/contracts"

	"github.com/segmentio/kafka-go"
)

type Message struct {
	EventID   string
	EventType string
	Key       string
	Payload   []byte
}

type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// 同じKeyは同じパーティションに入る（注文単位で順序を保つ）
func (p *KafkaPublisher) Publish(ctx context.Context, m Message) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.Key),
		Value: m.Payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(m.EventID)},
			{Key: "event_type", Value: []byte(m.EventType)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ブローカー未設定のとき用。ログに出すだけ
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, m Message) error {
	p.log.InfoContext(ctx, "event published",
		slog.String("event_id", m.EventID),
		slog.String("event_type", m.EventType),
		slog.String("key", m.Key),
		slog.Int("bytes", len(m.Payload)),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// 通知サービス向けのキューに注文確認を積む
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) SendOrderConfirmation(ctx context.Context, eventID string, order contracts.OrderConfirmed, recipient string) error {
	data, err := json.Marshal(contracts.OrderConfirmation{Recipient: recipient, Order: order})
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, Message{
		EventID:   eventID,
		EventType: contracts.EventNotificationEmitted,
		Key:       recipient,
		Payload:   data,
	})
}
