package fuzzing

import (
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/crytic/invfuzz/chain"
	"github.com/crytic/invfuzz/fuzzing/calls"
	fuzzingConfig "github.com/crytic/invfuzz/fuzzing/config"
	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/fuzzing/targets"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/invfuzz/utils"
	"github.com/crytic/medusa-geth/common"
	gethTypes "github.com/crytic/medusa-geth/core/types"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// chainAdapterFactory spawns TestChain adapters with a test contract deployed and set up.
type chainAdapterFactory struct {
	// artifacts describes every known contract artifact.
	artifacts contracts.Contracts

	// testContract describes the test contract which is deployed and set up on every chain.
	testContract *contracts.Contract

	// config describes the fuzzing configuration chains are created with.
	config *fuzzingConfig.FuzzingConfig

	// senders describes the accounts calls are sent from by default.
	senders []common.Address

	// deployer describes the account the test contract is deployed from.
	deployer common.Address

	// balance describes the balance senders and the deployer are funded with at genesis.
	balance *big.Int

	// setup describes the TestSetup resolved on the first spawned chain. Every chain is set up identically, so it is
	// shared by later spawns.
	setup *TestSetup

	// setupLock provides thread synchronization for setup.
	setupLock sync.Mutex

	// logger describes the factory's logger.
	logger *logging.Logger
}

// NewChainAdapterFactory creates an AdapterFactory which spawns TestChain instances with the senders and deployer
// funded, the named test contract deployed and its setUp function called.
// Returns the factory, or an error if the test contract could not be found or the configuration is malformed.
func NewChainAdapterFactory(artifacts contracts.Contracts, testContractName string, config *fuzzingConfig.FuzzingConfig) (AdapterFactory, error) {
	testContract := artifacts.FindByName(testContractName)
	if testContract == nil {
		return nil, errors.Errorf("test contract %v was not found in the artifacts", testContractName)
	}
	if len(testContract.InitBytecode()) == 0 {
		return nil, errors.Errorf("test contract %v has no deployment bytecode", testContractName)
	}

	senders, err := utils.HexStringsToAddresses(config.SenderAddresses)
	if err != nil {
		return nil, err
	}
	deployer, err := utils.HexStringToAddress(config.DeployerAddress)
	if err != nil {
		return nil, err
	}
	balance := big.NewInt(0)
	if config.SenderBalance != nil {
		balance.Set(&config.SenderBalance.Int)
	}

	factory := &chainAdapterFactory{
		artifacts:    artifacts,
		testContract: testContract,
		config:       config,
		senders:      senders,
		deployer:     deployer,
		balance:      balance,
		logger:       logging.GlobalLogger.NewSubLogger("module", "fuzzer"),
	}
	return factory.spawn, nil
}

// spawn creates a new chain and brings it to the post-setUp state.
func (f *chainAdapterFactory) spawn() (Adapter, *TestSetup, error) {
	genesisAlloc := make(gethTypes.GenesisAlloc)
	for _, account := range append(slices.Clone(f.senders), f.deployer) {
		genesisAlloc[account] = gethTypes.Account{
			Balance: new(big.Int).Set(f.balance),
		}
	}

	// Copy the chain config so chains never share it.
	chainConfig := f.config.TestChainConfig
	testChain, err := chain.NewTestChain(genesisAlloc, &chainConfig)
	if err != nil {
		return nil, nil, err
	}

	// Track every contract deployed during setup, in creation order.
	deployed := make([]common.Address, 0)
	settingUp := true
	testChain.Events.ContractDeploymentsAdded.Subscribe(func(event chain.ContractDeploymentsAddedEvent) error {
		if settingUp {
			deployed = append(deployed, event.Addresses...)
		}
		return nil
	})

	testAddress, outcome, err := testChain.Deploy(f.deployer, f.testContract.InitBytecode(), nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not deploy test contract %v", f.testContract.Name())
	}
	if outcome.Failed() {
		return nil, nil, errors.Errorf("deployment of test contract %v failed: %v", f.testContract.Name(), outcome.FailureString())
	}

	if method, ok := f.testContract.Abi().Methods["setUp"]; ok && len(method.Inputs) == 0 {
		var selector [4]byte
		copy(selector[:], method.ID)
		outcome, err = testChain.Call(calls.NewCallStep(f.deployer, testAddress, selector, nil, nil))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "could not call setUp of %v", f.testContract.Name())
		}
		if outcome.Failed() {
			return nil, nil, errors.Errorf("setUp of %v failed: %v", f.testContract.Name(), outcome.FailureString())
		}
		if outcome.ExpectationFailure != "" {
			return nil, nil, errors.Errorf("setUp of %v failed: %v", f.testContract.Name(), outcome.ExpectationFailure)
		}
	}

	// Pranks started during setUp do not carry over into fuzzed calls.
	testChain.StopPrank()
	settingUp = false

	setup, err := f.resolveSetup(testChain, testAddress, deployed)
	if err != nil {
		return nil, nil, err
	}
	return testChain, setup, nil
}

// resolveSetup returns the TestSetup of the chain, resolving it on the first call.
func (f *chainAdapterFactory) resolveSetup(testChain *chain.TestChain, testAddress common.Address, deployed []common.Address) (*TestSetup, error) {
	f.setupLock.Lock()
	defer f.setupLock.Unlock()
	if f.setup != nil {
		return f.setup, nil
	}

	testAbi := f.testContract.Abi()
	hooks, err := targets.DecodeTargetHooks(func(data []byte) ([]byte, error) {
		outcome, err := testChain.StaticCall(f.deployer, testAddress, data)
		if err != nil {
			return nil, err
		}
		if outcome.Failed() {
			return nil, errors.New(outcome.FailureString())
		}
		return outcome.ReturnData, nil
	}, testAbi)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve targets of %v", f.testContract.Name())
	}

	// Contracts named by hooks may have been deployed without us observing it (e.g. etched), so they are considered
	// alongside the observed deployments.
	addresses := slices.Clone(deployed)
	named := slices.Clone(hooks.TargetContracts)
	for _, selector := range hooks.TargetSelectors {
		named = append(named, selector.Address)
	}
	for _, iface := range hooks.TargetInterfaces {
		named = append(named, iface.Address)
	}
	for _, address := range named {
		if !slices.Contains(addresses, address) {
			addresses = append(addresses, address)
		}
	}

	deployments := make([]targets.Deployment, 0, len(addresses))
	for _, address := range addresses {
		code := testChain.CodeAt(address)
		deployments = append(deployments, targets.Deployment{
			Address:     address,
			RuntimeCode: code,
			Artifact:    f.artifacts.MatchBytecode(code),
		})
	}

	invariants := findInvariants(f.testContract, f.config.InvariantPrefixes)
	invariantSelectors := make([][4]byte, len(invariants))
	for i, invariant := range invariants {
		invariantSelectors[i] = invariant.Selector
	}

	infrastructure := make([]common.Address, 0)
	if testChain.IsInfrastructureAddress(chain.StandardCheatcodeContractAddress) {
		infrastructure = append(infrastructure, chain.StandardCheatcodeContractAddress)
	}
	universe := targets.Resolve(hooks, deployments, targets.ResolveOptions{
		TestAddress:             testAddress,
		Artifacts:               f.artifacts,
		InfrastructureAddresses: infrastructure,
		DefaultSenders:          f.senders,
		InterfaceMode:           targets.InterfaceSelectorMode(f.config.TargetInterfaceMode),
		IncludeViewFunctions:    f.config.IncludeViewFunctions,
		InvariantSelectors:      invariantSelectors,
	})

	var afterInvariant *Invariant
	if method, ok := testAbi.Methods["afterInvariant"]; ok && len(method.Inputs) == 0 {
		afterInvariant = &Invariant{Name: method.Name}
		copy(afterInvariant.Selector[:], method.ID)
	}

	f.setup = &TestSetup{
		TestContract:   f.testContract.Name(),
		TestAddress:    testAddress,
		Caller:         f.deployer,
		Universe:       universe,
		Invariants:     invariants,
		AfterInvariant: afterInvariant,
		Artifacts:      f.artifacts,
	}
	f.logger.Debug("Resolved ", len(universe.Targets()), " targets, ", len(universe.Senders()), " senders and ",
		len(invariants), " invariants for ", f.testContract.Name())
	return f.setup, nil
}

// findInvariants returns the argument-less functions of the test contract whose name starts with one of the
// prefixes, sorted by name.
func findInvariants(testContract *contracts.Contract, prefixes []string) []Invariant {
	invariants := make([]Invariant, 0)
	for _, method := range testContract.Methods() {
		if len(method.Inputs) != 0 || !hasAnyPrefix(method.Name, prefixes) {
			continue
		}
		invariant := Invariant{Name: method.Name}
		copy(invariant.Selector[:], method.ID)
		invariants = append(invariants, invariant)
	}
	sort.Slice(invariants, func(i, j int) bool {
		return invariants[i].Name < invariants[j].Name
	})
	return invariants
}

// hasAnyPrefix indicates whether the name starts with any of the prefixes.
func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
