package testutils

import (
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/stretchr/testify/assert"
)

// TestAssemblerLabels ensures label references resolve to their JUMPDEST and data offsets.
func TestAssemblerLabels(t *testing.T) {
	code := NewAssembler().
		PushLabel("target").Op(vm.JUMP).
		Op(vm.INVALID).
		Label("target").
		ReturnData("blob", 2).
		Data("blob", []byte{0xAB, 0xCD}).
		Bytes()

	// PUSH2 0x0005 JUMP INVALID JUMPDEST ...
	assert.Equal(t, byte(vm.PUSH2), code[0])
	assert.Equal(t, []byte{0x00, 0x05}, code[1:3])
	assert.Equal(t, byte(vm.JUMPDEST), code[5])
	assert.Equal(t, []byte{0xAB, 0xCD}, code[len(code)-2:])
}

// TestDeploymentBytecode ensures the init code prefix points at the runtime code that follows it.
func TestDeploymentBytecode(t *testing.T) {
	runtime := []byte{byte(vm.STOP)}
	init := DeploymentBytecode(runtime)
	assert.Len(t, init, 14)
	assert.Equal(t, byte(13), init[6])
	assert.Equal(t, runtime, init[13:])
}
