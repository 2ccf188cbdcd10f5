package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToUint32(t *testing.T) {
	v, err := IntToUint32(42)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	var oe *OverflowError
	_, err = IntToUint32(-1)
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "uint32", oe.Target)

	if math.MaxInt > math.MaxUint32 {
		_, err = IntToUint32(math.MaxUint32 + 1)
		assert.ErrorAs(t, err, &oe)
	}
}

func TestIntToUint16(t *testing.T) {
	v, err := IntToUint16(math.MaxUint16)
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), v)

	_, err = IntToUint16(math.MaxUint16 + 1)
	var oe *OverflowError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, math.MaxUint16+1, oe.Value)
}
