package targets

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/slices"
)

// Target describes a contract address the fuzzer may call, along with the functions reachable at it.
type Target struct {
	// Address describes the address calls are sent to.
	Address common.Address

	// Artifact describes the contract deployed at the address, or nil if its bytecode matched no artifact and its
	// functions were attached through interfaces.
	Artifact *contracts.Contract

	// Methods describes the functions which may be called on the target, sorted by signature.
	Methods []abi.Method

	// Dynamic indicates the target was deployed mid-sequence rather than during setup.
	Dynamic bool
}

// Name returns a human-readable name for the target.
func (t *Target) Name() string {
	if t.Artifact != nil {
		return t.Artifact.Name()
	}
	return t.Address.String()
}

// Selectors returns the function selectors reachable on the target, in method order.
func (t *Target) Selectors() [][4]byte {
	selectors := make([][4]byte, len(t.Methods))
	for i, method := range t.Methods {
		selectors[i] = [4]byte(method.ID)
	}
	return selectors
}

// Method returns the method with the provided selector, or nil if it is not reachable on the target.
func (t *Target) Method(selector [4]byte) *abi.Method {
	for i := range t.Methods {
		if [4]byte(t.Methods[i].ID) == selector {
			return &t.Methods[i]
		}
	}
	return nil
}

// TargetUniverse describes the contracts, functions and senders the fuzzer may draw calls from. It is immutable once
// resolved, except for contracts deployed mid-sequence, which are added through AddDynamic.
type TargetUniverse struct {
	// targets describes the target contracts, in resolution order followed by dynamic additions.
	targets []*Target

	// senders describes the accounts calls may be sent from. Every target accepts calls from every sender.
	senders []common.Address

	// invariantSelectors describes the selectors of the invariant functions checked against this universe.
	invariantSelectors [][4]byte

	// resolver describes the rules the universe was resolved with, used to filter dynamic additions.
	resolver *resolver
}

// Targets returns the targets in the universe.
func (u *TargetUniverse) Targets() []*Target {
	return u.targets
}

// Target returns the target at the provided address, or nil if the address is not a target.
func (u *TargetUniverse) Target(address common.Address) *Target {
	for _, target := range u.targets {
		if target.Address == address {
			return target
		}
	}
	return nil
}

// Senders returns the accounts calls may be sent from.
func (u *TargetUniverse) Senders() []common.Address {
	return u.senders
}

// InvariantSelectors returns the selectors of the invariant functions checked against this universe.
func (u *TargetUniverse) InvariantSelectors() [][4]byte {
	return u.invariantSelectors
}

// Addresses returns the target addresses followed by the sender addresses. The argument strategy biases address
// generation toward these.
func (u *TargetUniverse) Addresses() []common.Address {
	addresses := make([]common.Address, 0, len(u.targets)+len(u.senders))
	for _, target := range u.targets {
		addresses = append(addresses, target.Address)
	}
	for _, sender := range u.senders {
		if !slices.Contains(addresses, sender) {
			addresses = append(addresses, sender)
		}
	}
	return addresses
}

// Clone returns a copy of the universe which can receive dynamic targets without affecting the original.
func (u *TargetUniverse) Clone() *TargetUniverse {
	return &TargetUniverse{
		targets:            slices.Clone(u.targets),
		senders:            u.senders,
		invariantSelectors: u.invariantSelectors,
		resolver:           u.resolver,
	}
}

// AddDynamic adds a contract deployed mid-sequence to the universe. The contract is only added if it passes the
// exclusion rules and the same inclusion rules as contracts deployed during setup: targetContracts or targetArtifacts
// leave it out unless its artifact is targeted by name.
// Returns a boolean indicating whether the contract was added.
func (u *TargetUniverse) AddDynamic(address common.Address, artifact *contracts.Contract) bool {
	if artifact == nil || u.Target(address) != nil || u.resolver == nil {
		return false
	}
	r := u.resolver
	if r.isIgnoredAddress(address) || r.isExcludedContract(address, artifact) {
		return false
	}
	if !r.isIncluded(address, artifact) {
		return false
	}

	methods := r.methodsFor(address, artifact)
	if len(methods) == 0 {
		return false
	}
	u.targets = append(u.targets, &Target{
		Address:  address,
		Artifact: artifact,
		Methods:  methods,
		Dynamic:  true,
	})
	return true
}

// Fingerprint returns a keccak256 digest over the universe's resolved targets, selectors, senders and invariant
// functions. Dynamic targets are not included. A persisted failure is only replayed against a universe with the same
// fingerprint.
func (u *TargetUniverse) Fingerprint() string {
	lines := make([]string, 0)
	for _, target := range u.targets {
		if target.Dynamic {
			continue
		}
		for _, selector := range target.Selectors() {
			lines = append(lines, "target:"+strings.ToLower(target.Address.Hex())+":"+hex.EncodeToString(selector[:]))
		}
	}
	for _, sender := range u.senders {
		lines = append(lines, "sender:"+strings.ToLower(sender.Hex()))
	}
	for _, selector := range u.invariantSelectors {
		lines = append(lines, "invariant:"+hex.EncodeToString(selector[:]))
	}
	sort.Strings(lines)

	hasher := sha3.NewLegacyKeccak256()
	for _, line := range lines {
		hasher.Write([]byte(line))
		hasher.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
