package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/infra"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w)

	ev := NewTradeEvent(domain.Trade{ID: 9, BuyOrderID: 1, SellOrderID: 2, Symbol: "AAPL", Price: 100_000_000, Quantity: 3, TradeTime: 1_700_000_000_000_000})
	ev.setSeq(42)
	require.NoError(t, sink.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "AAPL", string(msg.Key))
	require.Equal(t, "seq", msg.Headers[0].Key)
	require.Equal(t, "42", string(msg.Headers[0].Value))

	var got struct {
		Type string `json:"type"`
		Data struct {
			Seq     uint64 `json:"seq"`
			TradeID int64  `json:"trade_id"`
			Price   int64  `json:"price_micros"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, "trade", got.Type)
	require.Equal(t, uint64(42), got.Data.Seq)
	require.Equal(t, int64(9), got.Data.TradeID)
	require.Equal(t, int64(100_000_000), got.Data.Price)
}

func TestKafkaSink_BreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w)
	ev := NewOrderUpdateEvent(domain.Order{ID: 1, Symbol: "AAPL", Status: domain.StatusWorking, Quantity: 1, RemainingQty: 1})

	for i := 0; i < infra.DefaultCircuitBreakerConfig("kafka").FailureThreshold; i++ {
		err := sink.Publish(context.Background(), ev)
		require.Error(t, err)
		require.NotErrorIs(t, err, infra.ErrCircuitOpen)
	}
	require.ErrorIs(t, sink.Publish(context.Background(), ev), infra.ErrCircuitOpen)
}
