package chain

import (
	"github.com/crytic/invfuzz/events"
	"github.com/crytic/medusa-geth/common"
)

// TestChainEvents describes the event emitters used by a TestChain.
type TestChainEvents struct {
	// ContractDeploymentsAdded emits events when a call completes after creating new contracts.
	ContractDeploymentsAdded events.EventEmitter[ContractDeploymentsAddedEvent]
}

// ContractDeploymentsAddedEvent describes an event where new contract deployments are detected by the TestChain.
type ContractDeploymentsAddedEvent struct {
	// Chain describes the chain the contracts were deployed on.
	Chain *TestChain

	// Deployer describes the sender of the top-level call which deployed the contracts.
	Deployer common.Address

	// Addresses describes the addresses of the deployed contracts, in creation order.
	Addresses []common.Address
}
