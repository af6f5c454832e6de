package targets

import (
	"strings"

	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/invfuzz/logging"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"golang.org/x/exp/slices"
)

// InterfaceSelectorMode describes how the functions of interfaces attached to an address combine with the functions
// of the artifact deployed at it.
type InterfaceSelectorMode string

const (
	// InterfaceSelectorsReplace uses only the functions of the attached interfaces.
	InterfaceSelectorsReplace InterfaceSelectorMode = "replace"
	// InterfaceSelectorsUnion uses the functions of the attached interfaces and of the deployed artifact.
	InterfaceSelectorsUnion InterfaceSelectorMode = "union"
)

// ConsoleAddress is the address of the console.log contract, which is never a sender or target.
var ConsoleAddress = common.HexToAddress("0x000000000000000000636F6e736F6c652e6c6f67")

// maxPrecompileAddress describes the highest precompile address on the supported forks.
const maxPrecompileAddress = 0x11

// reservedTestFunctions describes test contract functions which are never fuzzed.
var reservedTestFunctions = []string{"setUp", "afterInvariant", "failed", "IS_TEST"}

// Deployment describes a contract observed on chain after setup.
type Deployment struct {
	// Address describes the address of the contract.
	Address common.Address

	// RuntimeCode describes the code deployed at the address.
	RuntimeCode []byte

	// Artifact describes the artifact the runtime code matched, or nil if it matched none.
	Artifact *contracts.Contract
}

// ResolveOptions describes the context a TargetUniverse is resolved in.
type ResolveOptions struct {
	// TestAddress describes the address of the test contract.
	TestAddress common.Address

	// Artifacts describes the known artifacts, used to look up interfaces and artifact names.
	Artifacts contracts.Contracts

	// InfrastructureAddresses describes addresses hosting harness infrastructure, e.g. cheat codes.
	InfrastructureAddresses []common.Address

	// DefaultSenders describes the senders used when the test contract declares no targetSenders.
	DefaultSenders []common.Address

	// InterfaceMode describes how attached interfaces combine with a deployed artifact's functions.
	InterfaceMode InterfaceSelectorMode

	// IncludeViewFunctions indicates whether view and pure functions are fuzzed.
	IncludeViewFunctions bool

	// InvariantSelectors describes the selectors of the invariant functions of the test contract.
	InvariantSelectors [][4]byte
}

// resolver applies target hooks to deployments.
type resolver struct {
	hooks   *TargetHooks
	options ResolveOptions
	logger  *logging.Logger
}

// Resolve derives the TargetUniverse from the test contract's hooks and the deployments observed after setup. If no
// inclusion hooks were declared, every deployment with code except the test contract and infrastructure is a target.
// Exclusion hooks always take precedence over inclusion hooks. Resolve never fails: hook entries which cannot be
// applied are logged and ignored.
func Resolve(hooks *TargetHooks, deployments []Deployment, options ResolveOptions) *TargetUniverse {
	if hooks == nil {
		hooks = &TargetHooks{}
	}
	if options.InterfaceMode == "" {
		options.InterfaceMode = InterfaceSelectorsReplace
	}
	r := &resolver{
		hooks:   hooks,
		options: options,
		logger:  logging.GlobalLogger.NewSubLogger("module", "targets"),
	}

	universe := &TargetUniverse{
		targets:            make([]*Target, 0),
		senders:            r.resolveSenders(),
		invariantSelectors: slices.Clone(options.InvariantSelectors),
		resolver:           r,
	}
	for _, deployment := range deployments {
		if len(deployment.RuntimeCode) == 0 || universe.Target(deployment.Address) != nil {
			continue
		}
		if r.isIgnoredAddress(deployment.Address) || r.isExcludedContract(deployment.Address, deployment.Artifact) {
			continue
		}
		if !r.isIncluded(deployment.Address, deployment.Artifact) {
			continue
		}

		methods := r.methodsFor(deployment.Address, deployment.Artifact)
		if len(methods) == 0 {
			r.logger.Debug("Not targeting ", deployment.Address.String(), ": no callable functions")
			continue
		}
		universe.targets = append(universe.targets, &Target{
			Address:  deployment.Address,
			Artifact: deployment.Artifact,
			Methods:  methods,
		})
	}
	r.logger.Debug("Resolved ", len(universe.targets), " targets and ", len(universe.senders), " senders")
	return universe
}

// isIgnoredAddress indicates whether an address is never a target: the zero address, precompiles, the console and
// harness infrastructure.
func (r *resolver) isIgnoredAddress(address common.Address) bool {
	return isReservedAddress(address) || slices.Contains(r.options.InfrastructureAddresses, address)
}

// isReservedAddress indicates whether an address is the zero address, a precompile or the console.
func isReservedAddress(address common.Address) bool {
	if address == ConsoleAddress {
		return true
	}
	for _, b := range address[:common.AddressLength-1] {
		if b != 0 {
			return false
		}
	}
	return address[common.AddressLength-1] <= maxPrecompileAddress
}

// matchesArtifact indicates whether an artifact name from a hook ("Name" or "path:Name") refers to the artifact.
func matchesArtifact(name string, artifact *contracts.Contract) bool {
	return artifact != nil && (artifact.Name() == name || artifact.QualifiedName() == name)
}

// isExcludedContract indicates whether an address or its artifact is excluded by excludeContracts or
// excludeArtifacts.
func (r *resolver) isExcludedContract(address common.Address, artifact *contracts.Contract) bool {
	if slices.Contains(r.hooks.ExcludeContracts, address) {
		return true
	}
	for _, name := range r.hooks.ExcludeArtifacts {
		if matchesArtifact(name, artifact) {
			return true
		}
	}
	return false
}

// isTargetedArtifact indicates whether an artifact is named by targetArtifacts or targetArtifactSelectors.
func (r *resolver) isTargetedArtifact(artifact *contracts.Contract) bool {
	for _, name := range r.hooks.TargetArtifacts {
		if matchesArtifact(name, artifact) {
			return true
		}
	}
	for _, artifactSelectors := range r.hooks.TargetArtifactSelectors {
		if matchesArtifact(artifactSelectors.Artifact, artifact) {
			return true
		}
	}
	return false
}

// isExplicitlyTargeted indicates whether an address is named by an inclusion hook.
func (r *resolver) isExplicitlyTargeted(address common.Address) bool {
	if slices.Contains(r.hooks.TargetContracts, address) {
		return true
	}
	for _, selectors := range r.hooks.TargetSelectors {
		if selectors.Address == address {
			return true
		}
	}
	return len(r.interfacesFor(address)) > 0
}

// isIncluded indicates whether a contract passes the inclusion hooks. Addresses and artifacts named by any inclusion
// hook are included, and every other contract is only included when targetContracts and targetArtifacts are both
// empty. The test contract is only included when it is named explicitly.
func (r *resolver) isIncluded(address common.Address, artifact *contracts.Contract) bool {
	if r.isExplicitlyTargeted(address) || r.isTargetedArtifact(artifact) {
		return true
	}
	if address == r.options.TestAddress {
		return false
	}
	return !r.hooks.HasInclusions()
}

// interfacesFor returns the names of the interfaces attached to an address.
func (r *resolver) interfacesFor(address common.Address) []string {
	names := make([]string, 0)
	for _, iface := range r.hooks.TargetInterfaces {
		if iface.Address == address {
			names = append(names, iface.Artifacts...)
		}
	}
	return names
}

// explicitSelectorsFor returns the selectors an address is restricted to by targetSelectors and
// targetArtifactSelectors, or an empty slice if it is not restricted.
func (r *resolver) explicitSelectorsFor(address common.Address, artifact *contracts.Contract) [][4]byte {
	selectors := make([][4]byte, 0)
	for _, fuzzSelector := range r.hooks.TargetSelectors {
		if fuzzSelector.Address == address {
			selectors = append(selectors, fuzzSelector.Selectors...)
		}
	}
	for _, artifactSelectors := range r.hooks.TargetArtifactSelectors {
		if matchesArtifact(artifactSelectors.Artifact, artifact) {
			selectors = append(selectors, artifactSelectors.Selectors...)
		}
	}
	return selectors
}

// excludedSelectorsFor returns the selectors excluded for an address by excludeSelectors.
func (r *resolver) excludedSelectorsFor(address common.Address) [][4]byte {
	selectors := make([][4]byte, 0)
	for _, fuzzSelector := range r.hooks.ExcludeSelectors {
		if fuzzSelector.Address == address {
			selectors = append(selectors, fuzzSelector.Selectors...)
		}
	}
	return selectors
}

// baseMethodsFor returns the functions known to be reachable at an address: the attached interfaces' functions, the
// deployed artifact's functions, or both, depending on the interface mode.
func (r *resolver) baseMethodsFor(address common.Address, artifact *contracts.Contract) []abi.Method {
	methods := make([]abi.Method, 0)
	interfaces := r.interfacesFor(address)
	for _, name := range interfaces {
		iface := r.options.Artifacts.FindByName(name)
		if iface == nil {
			r.logger.Debug("Ignoring unknown interface ", name, " attached to ", address.String())
			continue
		}
		methods = append(methods, iface.Methods()...)
	}
	if artifact != nil && (len(interfaces) == 0 || r.options.InterfaceMode == InterfaceSelectorsUnion) {
		methods = append(methods, artifact.Methods()...)
	}

	// Keep the first definition of every selector, then order by signature.
	unique := make([]abi.Method, 0, len(methods))
	for _, method := range methods {
		if !slices.ContainsFunc(unique, func(m abi.Method) bool { return string(m.ID) == string(method.ID) }) {
			unique = append(unique, method)
		}
	}
	slices.SortFunc(unique, func(a, b abi.Method) int {
		return strings.Compare(a.Sig, b.Sig)
	})
	return unique
}

// methodsFor returns the functions of an address which may be fuzzed, after applying selector inclusion and exclusion.
func (r *resolver) methodsFor(address common.Address, artifact *contracts.Contract) []abi.Method {
	explicit := r.explicitSelectorsFor(address, artifact)
	excluded := r.excludedSelectorsFor(address)

	methods := make([]abi.Method, 0)
	for _, method := range r.baseMethodsFor(address, artifact) {
		selector := [4]byte(method.ID)
		if slices.Contains(excluded, selector) {
			continue
		}
		if len(explicit) > 0 {
			// Explicitly selected functions are fuzzed even if they are view functions.
			if !slices.Contains(explicit, selector) {
				continue
			}
		} else if method.IsConstant() && !r.options.IncludeViewFunctions {
			continue
		}
		if address == r.options.TestAddress && r.isReservedTestFunction(method) {
			continue
		}
		methods = append(methods, method)
	}
	return methods
}

// isReservedTestFunction indicates whether a test contract function is part of the test harness rather than a
// handler: setup, invariants and hooks.
func (r *resolver) isReservedTestFunction(method abi.Method) bool {
	if slices.Contains(reservedTestFunctions, method.RawName) || slices.Contains(HookFunctionNames, method.RawName) {
		return true
	}
	return strings.HasPrefix(method.RawName, "invariant") || slices.Contains(r.options.InvariantSelectors, [4]byte(method.ID))
}

// resolveSenders returns the eligible senders: targetSenders if declared, otherwise the default senders without
// reserved addresses, minus excludeSenders.
func (r *resolver) resolveSenders() []common.Address {
	candidates := r.hooks.TargetSenders
	explicit := len(candidates) > 0
	if !explicit {
		candidates = r.options.DefaultSenders
	}

	senders := make([]common.Address, 0, len(candidates))
	for _, sender := range candidates {
		if slices.Contains(senders, sender) || slices.Contains(r.hooks.ExcludeSenders, sender) {
			continue
		}
		if !explicit && r.isIgnoredAddress(sender) {
			continue
		}
		senders = append(senders, sender)
	}
	return senders
}
