package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicalops/overrideguard/pkg/canonical"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := canonical.Marshal(map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mid":   map[string]any{"b": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zeta":1}`, string(out))
}

func TestMarshalIndependentOfInputFormatting(t *testing.T) {
	a := json.RawMessage(`{"b": 1, "a": "x"}`)
	b := json.RawMessage("{\n  \"a\": \"x\",\n  \"b\": 1\n}")

	ca, err := canonical.Marshal(a)
	require.NoError(t, err)
	cb, err := canonical.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestMarshalPreservesArrayOrder(t *testing.T) {
	out, err := canonical.Marshal(map[string]any{"items": []any{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, `{"items":["b","a"]}`, string(out))
}

func TestHMACKeyed(t *testing.T) {
	payload := map[string]any{"tercero": "A1", "importe": "100.00"}

	d1, err := canonical.HMAC([]byte("key-one"), payload)
	require.NoError(t, err)
	d2, err := canonical.HMAC([]byte("key-two"), payload)
	require.NoError(t, err)
	d3, err := canonical.HMAC([]byte("key-one"), payload)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
	assert.Equal(t, d1, d3)
	assert.Len(t, d1, 64) // hex SHA-256
}

func TestEqual(t *testing.T) {
	assert.True(t, canonical.Equal("abcd", "abcd"))
	assert.False(t, canonical.Equal("abcd", "abce"))
	assert.False(t, canonical.Equal("abcd", "abcdef"))
}
