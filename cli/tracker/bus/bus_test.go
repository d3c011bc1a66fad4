package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundtrip(t *testing.T) {
	b, err := New("memory", nil)
	require.NoError(t, err)
	defer b.Close()

	got := make(chan []byte, 1)
	require.NoError(t, b.Subscribe(LocationChannel, func(payload []byte) {
		got <- payload
	}))

	require.NoError(t, b.Publish(LocationChannel, []byte(`{"vehicleId":"truck-1"}`)))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"vehicleId":"truck-1"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestMemoryChannelIsolation(t *testing.T) {
	b := NewMemory()

	var delivered int
	require.NoError(t, b.Subscribe("other:channel", func([]byte) {
		delivered++
	}))
	require.NoError(t, b.Publish(LocationChannel, []byte("x")))
	assert.Zero(t, delivered)
}

func TestEmptyKindDefaultsToMemory(t *testing.T) {
	b, err := New("", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)
}

func TestUnknownKind(t *testing.T) {
	_, err := New("kafka", nil)
	assert.ErrorIs(t, err, ErrUnknownBus)
}
