package bplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingTableBasics(t *testing.T) {
	m := newMappingTable(64) // 8 entries
	require.NotNil(t, m)
	require.Equal(t, 8, m.capacity)

	// Miss returns the probe key unchanged.
	assert.Equal(t, uint32(42), m.get(42))

	require.NoError(t, m.add(42, 100))
	assert.Equal(t, uint32(100), m.get(42))
	assert.True(t, m.has(42))
	assert.Equal(t, 1, m.count)

	// Upsert in place.
	require.NoError(t, m.add(42, 200))
	assert.Equal(t, uint32(200), m.get(42))
	assert.Equal(t, 1, m.count)

	m.remove(42)
	assert.Equal(t, uint32(42), m.get(42))
	assert.Equal(t, 0, m.count)
	// Idempotent.
	m.remove(42)
	assert.Equal(t, 0, m.count)
}

func TestMappingTableProbeChain(t *testing.T) {
	m := newMappingTable(64) // 8 entries, home slot = prev % 8, stride 7
	// All three keys hash to home slot 1 and must chain.
	require.NoError(t, m.add(1, 11))
	require.NoError(t, m.add(9, 19))
	require.NoError(t, m.add(17, 27))

	assert.Equal(t, uint32(11), m.get(1))
	assert.Equal(t, uint32(19), m.get(9))
	assert.Equal(t, uint32(27), m.get(17))

	// maxTries probes exhausted for a fourth colliding key.
	assert.ErrorIs(t, m.add(25, 35), ErrMappingFull)

	// Freeing one slot in the chain admits it.
	m.remove(9)
	require.NoError(t, m.add(25, 35))
	assert.Equal(t, uint32(35), m.get(25))
}

func TestMappingTableZeroBudget(t *testing.T) {
	assert.Nil(t, newMappingTable(0))
	assert.Nil(t, newMappingTable(7))
}
