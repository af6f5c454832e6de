package types

import (
	"math/big"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/tracing"
	coreTypes "github.com/crytic/medusa-geth/core/types"
	"golang.org/x/exp/slices"
)

// TracerForwarder forwards the call frame, opcode and log hooks of an EVM to every tracing.Hooks registered with it,
// in the order they were registered.
type TracerForwarder struct {
	// tracers refers to the hooks every event is forwarded to.
	tracers []*tracing.Hooks
}

// NewTracerForwarder returns a TracerForwarder with the provided hooks registered.
func NewTracerForwarder(tracers ...*tracing.Hooks) *TracerForwarder {
	return &TracerForwarder{
		tracers: slices.Clone(tracers),
	}
}

// AddTracer registers hooks, so every following event is also forwarded to them.
func (t *TracerForwarder) AddTracer(tracer *tracing.Hooks) {
	t.tracers = append(t.tracers, tracer)
}

// Hooks returns the tracing.Hooks to attach to an EVM.
func (t *TracerForwarder) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.OnEnter,
		OnExit:   t.OnExit,
		OnOpcode: t.OnOpcode,
		OnLog:    t.OnLog,
	}
}

// OnEnter is called upon entering of a call frame, as defined by tracing.Hooks.
func (t *TracerForwarder) OnEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	for _, tracer := range t.tracers {
		if tracer.OnEnter != nil {
			tracer.OnEnter(depth, typ, from, to, input, gas, value)
		}
	}
}

// OnExit is called upon exiting of a call frame, as defined by tracing.Hooks.
func (t *TracerForwarder) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	for _, tracer := range t.tracers {
		if tracer.OnExit != nil {
			tracer.OnExit(depth, output, gasUsed, err, reverted)
		}
	}
}

// OnOpcode is called before an instruction is executed, as defined by tracing.Hooks.
func (t *TracerForwarder) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	for _, tracer := range t.tracers {
		if tracer.OnOpcode != nil {
			tracer.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
		}
	}
}

// OnLog is called when a log is emitted, as defined by tracing.Hooks.
func (t *TracerForwarder) OnLog(log *coreTypes.Log) {
	for _, tracer := range t.tracers {
		if tracer.OnLog != nil {
			tracer.OnLog(log)
		}
	}
}
