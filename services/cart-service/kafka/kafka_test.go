package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "cart.events"}

	err := p.Publish(context.Background(), models.CartEvent{
		Event:       models.EventCartCreated,
		CartID:      7,
		UserID:      42,
		TotalAmount: decimal.NewFromInt(20),
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "7", string(w.msgs[0].Key))
	assert.Equal(t, models.EventCartCreated, string(w.msgs[0].Headers[0].Value))

	var got models.CartEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, int64(42), got.UserID)
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("no brokers")}}
	assert.Error(t, p.Publish(context.Background(), models.CartEvent{CartID: 1}))
}

type recordingHandler struct {
	mu     sync.Mutex
	values []string
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, string(value))
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}

type scriptedReader struct {
	msgs []kafka.Message
	done chan struct{}
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error {
	close(r.done)
	return nil
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	h := &recordingHandler{err: errors.New("cache down")}
	reader := &scriptedReader{
		msgs: []kafka.Message{
			{Value: []byte(`{"event":"product.updated","product_id":9}`)},
			{Value: []byte(`{"event":"product.deleted","product_id":10}`)},
		},
		done: make(chan struct{}),
	}
	c := &Consumer{reader: reader, handler: h, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-reader.done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
