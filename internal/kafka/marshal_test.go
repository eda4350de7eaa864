package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		OrderID int64 `json:"order_id"`
	}
	got, err := UnwrapPayload[payload](json.RawMessage(`{"order_id":12}`))
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.OrderID)

	_, err = UnwrapPayload[payload](json.RawMessage(`[`))
	assert.ErrorContains(t, err, "decode payload")
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Equal(t, []byte(`{"a":1}`), MustMarshal(map[string]int{"a": 1}))
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
}
