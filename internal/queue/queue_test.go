package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "roster", Body: []byte(`{"class_id":"c1"}`)}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "roster", msg.Type)
		assert.Equal(t, `{"class_id":"c1"}`, string(msg.Body))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "roster", Body: []byte(`{"crn":"10001","date":"2024-12-05"}`)}

	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDeserializeWithoutType(t *testing.T) {
	got, err := deserialize("raw-payload")
	require.NoError(t, err)
	assert.Empty(t, got.Type)
	assert.Equal(t, "raw-payload", string(got.Body))
}
