package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/engine"
)

func TestNewQuantumRegisterWiresOneVertexPerQubit(t *testing.T) {
	qr, err := engine.NewQuantumRegister(3)
	require.NoError(t, err)
	require.NotNil(t, qr.Network())
	assert.Equal(t, 3, len(qr.Network().VertexIDs())-1) // exclude the reserved output vertex
}

func TestApplyGate1MergesGateIntoQubit(t *testing.T) {
	qr, err := engine.NewQuantumRegister(2)
	require.NoError(t, err)

	before := len(qr.Network().VertexIDs())
	require.NoError(t, qr.ApplyGate1("X", 0))
	after := len(qr.Network().VertexIDs())

	// Merge fuses gate+qubit into one vertex and appends the gate, netting
	// no change in vertex count (one appended, two merged into one).
	assert.Equal(t, before, after)
}

func TestApplyGate2RejectsOutOfRangeQubit(t *testing.T) {
	qr, err := engine.NewQuantumRegister(2)
	require.NoError(t, err)
	require.Error(t, qr.ApplyGate2("CNOT", 0, 5))
}

func TestNewQuantumRegisterRejectsNonPositiveSize(t *testing.T) {
	_, err := engine.NewQuantumRegister(0)
	require.Error(t, err)
}
