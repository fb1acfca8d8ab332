package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Decode(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"minimal", `{"type":"connected"}`, true},
		{"with payload", `{"type":"position_update","payload":{"x":1,"y":2,"z":3}}`, true},
		{"missing type", `{"payload":{}}`, false},
		{"bad type chars", `{"type":"no spaces"}`, false},
		{"payload not object", `{"type":"chat","payload":[]}`, false},
		{"chat without message", `{"type":"chat","payload":{"username":"a"}}`, false},
		{"navigation without id", `{"type":"navigation_result","payload":{"success":true}}`, false},
		{"navigation ok", `{"type":"navigation_result","payload":{"request_id":"r","success":false}}`, true},
		{"spawn without type", `{"type":"entity_spawned","payload":{"id":"e1"}}`, false},
		{"not json", `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := c.Decode([]byte(tt.raw))
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, env.Payload)
		})
	}
}
