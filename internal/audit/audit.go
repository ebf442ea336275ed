// Package audit publishes trade events to an external log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// Event types.
const (
	EventBuy     = "trade.buy"
	EventSell    = "trade.sell"
	EventGap     = "trade.reconciliation_gap"
	EventCycle   = "cycle.finished"
	EventRefused = "order.refused"
)

// Event is one audit record. Publishing is best effort; the ledger stays
// the source of truth.
type Event struct {
	Type        string     `json:"type"`
	ExecutionID string     `json:"execution_id,omitempty"`
	TradeID     string     `json:"trade_id,omitempty"`
	QuoteID     string     `json:"quote_id,omitempty"`
	Side        model.Side `json:"side,omitempty"`
	Tier        string     `json:"tier,omitempty"`
	Quantity    float64    `json:"quantity,omitempty"`
	Price       float64    `json:"price,omitempty"`
	Amount      float64    `json:"amount,omitempty"`
	ProfitPct   float64    `json:"profit_pct,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
}

// Key partitions events of the same trade together.
func (e Event) Key() []byte {
	if e.TradeID != "" {
		return []byte(e.TradeID)
	}
	return []byte(e.ExecutionID)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, otherwise a
// publisher that drops everything.
func New(cfg config.Kafka) Publisher {
	if len(cfg.Brokers) == 0 {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg)
}

// KafkaPublisher writes JSON events to one topic.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
	log     *logrus.Entry
}

func NewKafkaPublisher(cfg config.Kafka) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	l := logger.WithComponent("audit")
	l.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Debug("kafka publisher initialized")
	return &KafkaPublisher{writer: w, timeout: cfg.WriteTimeout, log: l}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.log.WithFields(logrus.Fields{"type": e.Type, "trade_id": e.TradeID}).Debug("event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode turns an event into a Kafka message.
func Encode(e Event) (kafka.Message, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	v, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{Key: e.Key(), Value: v, Time: e.At}, nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
