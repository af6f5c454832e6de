package types

import (
	"math/big"
	"testing"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/tracing"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/stretchr/testify/assert"
)

// TestGenericHookFuncsExecute ensures hooks run in the requested direction, and that clearing the list lets hooks
// schedule new hooks for the next execution.
func TestGenericHookFuncsExecute(t *testing.T) {
	order := make([]int, 0)
	var hooks GenericHookFuncs
	hooks.Push(func() { order = append(order, 1) })
	hooks.Push(func() { order = append(order, 2) })

	hooks.Execute(true, false)
	hooks.Execute(false, false)
	assert.Equal(t, []int{1, 2, 2, 1}, order)

	// A hook pushed while executing a cleared list runs on the next execution only.
	order = order[:0]
	hooks = nil
	hooks.Push(func() {
		order = append(order, 3)
		hooks.Push(func() { order = append(order, 4) })
	})
	hooks.Execute(true, true)
	assert.Equal(t, []int{3}, order)
	assert.Len(t, hooks, 1)
	hooks.Execute(true, true)
	assert.Equal(t, []int{3, 4}, order)
	assert.Empty(t, hooks)

	// A nil list is a no-op.
	var missing *GenericHookFuncs
	missing.Execute(true, true)
}

// TestTracerForwarder ensures events are forwarded to every registered tracer in registration order, skipping hooks
// a tracer does not set.
func TestTracerForwarder(t *testing.T) {
	events := make([]string, 0)
	first := &tracing.Hooks{
		OnEnter: func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
			events = append(events, "first enter")
		},
		OnLog: func(log *coreTypes.Log) {
			events = append(events, "first log")
		},
	}
	second := &tracing.Hooks{
		OnEnter: func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
			events = append(events, "second enter")
		},
		OnExit: func(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
			events = append(events, "second exit")
		},
	}

	forwarder := NewTracerForwarder(first)
	forwarder.AddTracer(second)
	hooks := forwarder.Hooks()
	hooks.OnEnter(0, 0xf1, common.Address{}, common.Address{}, nil, 0, nil)
	hooks.OnLog(&coreTypes.Log{})
	hooks.OnExit(0, nil, 0, nil, false)
	hooks.OnOpcode(0, 0, 0, 0, nil, nil, 0, nil)
	assert.Equal(t, []string{"first enter", "second enter", "first log", "second exit"}, events)
}
