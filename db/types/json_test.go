package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawJSON_ScanDecode(t *testing.T) {
	var col RawJSON
	require.NoError(t, col.Scan([]byte(`["acme","globex"]`)))

	var slugs []string
	require.NoError(t, col.Decode(&slugs))
	assert.Equal(t, []string{"acme", "globex"}, slugs)

	require.NoError(t, col.Scan(nil))
	assert.Nil(t, col)

	var untouched []string
	require.NoError(t, col.Decode(&untouched))
	assert.Nil(t, untouched)

	assert.Error(t, col.Scan(42))
}

func TestMarshalRaw(t *testing.T) {
	raw, err := MarshalRaw(map[int64]int64{1: 10})
	require.NoError(t, err)

	v, err := raw.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"1":10}`), v)
}
