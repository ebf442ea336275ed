package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg, err := Encode(Event{
		Type: EventBuy, TradeID: "BUY_q1_1", QuoteID: "q1", Side: model.SideBuy,
		Tier: "Correction légère ATR+RSI", Quantity: 0.0013, Price: 41000, Amount: 53.3, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("BUY_q1_1"), msg.Key)
	assert.Equal(t, at, msg.Time)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "trade.buy", got["type"])
	assert.Equal(t, "BUY", got["side"])
	assert.Equal(t, 41000.0, got["price"])
	assert.NotContains(t, got, "profit_pct")
}

func TestEventKeyFallsBackToExecution(t *testing.T) {
	assert.Equal(t, []byte("exec-1"), Event{ExecutionID: "exec-1"}.Key())
}

func TestNewWithoutBrokers(t *testing.T) {
	p := New(config.Kafka{Topic: "trade-events"})
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{Type: EventCycle}))
	assert.NoError(t, p.Close())
}

func TestNewWithBrokers(t *testing.T) {
	p := New(config.Kafka{Brokers: []string{"localhost:9092"}, Topic: "trade-events", WriteTimeout: time.Second})
	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "trade-events", kp.writer.Topic)
	assert.NoError(t, kp.Close())
}
