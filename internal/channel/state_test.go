package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_TextRoundTrip(t *testing.T) {
	for st := StateIdle; st <= StateClosed; st++ {
		data, err := json.Marshal(st)
		require.NoError(t, err)

		var got State
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, st, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("reconnecting")))
	assert.Equal(t, "State(42)", State(42).String())
}

func TestParseError_Unwrap(t *testing.T) {
	var syntax *json.SyntaxError
	inner := json.Unmarshal([]byte("{"), &struct{}{})
	err := &ParseError{Address: "10.0.0.7", Channel: "trials", Data: []byte("{"), Err: inner}

	assert.ErrorAs(t, err, &syntax)
	assert.Contains(t, err.Error(), "10.0.0.7/trials")
}
