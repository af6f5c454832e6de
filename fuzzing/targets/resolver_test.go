package targets

import (
	"strings"
	"testing"

	"github.com/crytic/invfuzz/fuzzing/contracts"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterAbi = `[
	{"type":"function","name":"increment","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"decrement","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"count","inputs":[],"outputs":[{"name":"","type":"int256"}],"stateMutability":"view"}
]`

const tokenAbi = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const viewOnlyAbi = `[
	{"type":"function","name":"value","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"pure"}
]`

const testContractAbi = `[
	{"type":"function","name":"setUp","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"invariant_countNonNegative","inputs":[],"outputs":[],"stateMutability":"view"},
	{"type":"function","name":"targetContracts","inputs":[],"outputs":[{"name":"","type":"address[]"}],"stateMutability":"view"},
	{"type":"function","name":"handlerDeposit","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

var (
	testAddress    = common.HexToAddress("0x1000")
	counterAddress = common.HexToAddress("0x2000")
	tokenAddress   = common.HexToAddress("0x3000")
	constAddress   = common.HexToAddress("0x4000")
	cheatAddress   = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")
	alice          = common.HexToAddress("0xa11ce")
	bob            = common.HexToAddress("0xb0b")
)

func newArtifact(t *testing.T, name string, definition string) *contracts.Contract {
	parsed, err := abi.JSON(strings.NewReader(definition))
	require.NoError(t, err)
	return contracts.NewContract(name, "src/"+name+".sol", parsed, []byte{0x00}, []byte{0x01})
}

func selector(signature string) [4]byte {
	return [4]byte(crypto.Keccak256([]byte(signature))[:4])
}

// fixture returns a test contract, a counter, a token and a view-only contract deployed after setup.
func fixture(t *testing.T) ([]Deployment, ResolveOptions) {
	test := newArtifact(t, "CounterTest", testContractAbi)
	counter := newArtifact(t, "Counter", counterAbi)
	token := newArtifact(t, "Token", tokenAbi)
	viewOnly := newArtifact(t, "Const", viewOnlyAbi)

	deployments := []Deployment{
		{Address: testAddress, RuntimeCode: []byte{0x01}, Artifact: test},
		{Address: counterAddress, RuntimeCode: []byte{0x01}, Artifact: counter},
		{Address: tokenAddress, RuntimeCode: []byte{0x01}, Artifact: token},
		{Address: constAddress, RuntimeCode: []byte{0x01}, Artifact: viewOnly},
		{Address: cheatAddress, RuntimeCode: []byte{0xff}},
	}
	options := ResolveOptions{
		TestAddress:             testAddress,
		Artifacts:               contracts.Contracts{test, counter, token, viewOnly},
		InfrastructureAddresses: []common.Address{cheatAddress},
		DefaultSenders:          []common.Address{alice, bob, {}, common.HexToAddress("0x01"), cheatAddress},
		InvariantSelectors:      [][4]byte{selector("invariant_countNonNegative()")},
	}
	return deployments, options
}

func targetAddresses(universe *TargetUniverse) []common.Address {
	addresses := make([]common.Address, 0)
	for _, target := range universe.Targets() {
		addresses = append(addresses, target.Address)
	}
	return addresses
}

func TestResolveDefaults(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(nil, deployments, options)

	// The test contract, infrastructure and view-only contracts are not targets.
	assert.Equal(t, []common.Address{counterAddress, tokenAddress}, targetAddresses(universe))

	// View functions are excluded, methods are sorted by signature.
	counter := universe.Target(counterAddress)
	require.NotNil(t, counter)
	assert.Equal(t, [][4]byte{selector("decrement()"), selector("increment()")}, counter.Selectors())
	assert.Nil(t, counter.Method(selector("count()")))
	assert.Equal(t, "Counter", counter.Name())

	// Reserved addresses are removed from the default senders.
	assert.Equal(t, []common.Address{alice, bob}, universe.Senders())
}

func TestResolveIncludeViewFunctions(t *testing.T) {
	deployments, options := fixture(t)
	options.IncludeViewFunctions = true
	universe := Resolve(nil, deployments, options)

	assert.Equal(t, []common.Address{counterAddress, tokenAddress, constAddress}, targetAddresses(universe))
	assert.NotNil(t, universe.Target(counterAddress).Method(selector("count()")))
}

func TestResolveTargetContracts(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(&TargetHooks{TargetContracts: []common.Address{tokenAddress}}, deployments, options)
	assert.Equal(t, []common.Address{tokenAddress}, targetAddresses(universe))
}

func TestResolveTestContractHandlers(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(&TargetHooks{TargetContracts: []common.Address{testAddress}}, deployments, options)

	// Only handler functions of the test contract are fuzzed.
	target := universe.Target(testAddress)
	require.NotNil(t, target)
	assert.Equal(t, [][4]byte{selector("handlerDeposit(uint256)")}, target.Selectors())
}

func TestResolveExclusionBeatsInclusion(t *testing.T) {
	deployments, options := fixture(t)
	hooks := &TargetHooks{
		TargetContracts:  []common.Address{counterAddress, tokenAddress},
		ExcludeContracts: []common.Address{tokenAddress},
		TargetSelectors: []FuzzSelector{
			{Address: counterAddress, Selectors: [][4]byte{selector("increment()"), selector("decrement()")}},
		},
		ExcludeSelectors: []FuzzSelector{
			{Address: counterAddress, Selectors: [][4]byte{selector("decrement()")}},
		},
		TargetSenders:  []common.Address{alice, bob},
		ExcludeSenders: []common.Address{bob},
	}
	universe := Resolve(hooks, deployments, options)

	assert.Equal(t, []common.Address{counterAddress}, targetAddresses(universe))
	assert.Equal(t, [][4]byte{selector("increment()")}, universe.Target(counterAddress).Selectors())
	assert.Equal(t, []common.Address{alice}, universe.Senders())
}

func TestResolveExcludeArtifacts(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(&TargetHooks{ExcludeArtifacts: []string{"src/Token.sol:Token"}}, deployments, options)
	assert.Equal(t, []common.Address{counterAddress}, targetAddresses(universe))

	// An excluded artifact is not re-included by targetArtifacts.
	universe = Resolve(&TargetHooks{TargetArtifacts: []string{"Token"}, ExcludeArtifacts: []string{"Token"}}, deployments, options)
	assert.Empty(t, universe.Targets())
}

func TestResolveSelectorsAllowViewFunctions(t *testing.T) {
	deployments, options := fixture(t)
	hooks := &TargetHooks{
		TargetSelectors: []FuzzSelector{{Address: counterAddress, Selectors: [][4]byte{selector("count()")}}},
	}
	universe := Resolve(hooks, deployments, options)

	// targetSelectors narrows the functions of the address it names, the other deployments stay targeted.
	assert.Equal(t, []common.Address{counterAddress, tokenAddress}, targetAddresses(universe))
	assert.Equal(t, [][4]byte{selector("count()")}, universe.Target(counterAddress).Selectors())

	// Combined with targetContracts, it adds the address it names to the inclusion set.
	hooks.TargetContracts = []common.Address{tokenAddress}
	universe = Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{counterAddress, tokenAddress}, targetAddresses(universe))
	hooks.TargetSelectors = nil
	universe = Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{tokenAddress}, targetAddresses(universe))
}

func TestResolveArtifactSelectors(t *testing.T) {
	deployments, options := fixture(t)
	hooks := &TargetHooks{
		TargetArtifactSelectors: []FuzzArtifactSelector{{Artifact: "Counter", Selectors: [][4]byte{selector("decrement()")}}},
	}
	universe := Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{counterAddress, tokenAddress}, targetAddresses(universe))
	assert.Equal(t, [][4]byte{selector("decrement()")}, universe.Target(counterAddress).Selectors())
	assert.Equal(t, [][4]byte{selector("transfer(address,uint256)")}, universe.Target(tokenAddress).Selectors())

	// With targetArtifacts, deployments of the selected artifact are added to the inclusion set.
	hooks.TargetArtifacts = []string{"Token"}
	universe = Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{counterAddress, tokenAddress}, targetAddresses(universe))
	hooks.TargetArtifactSelectors = nil
	universe = Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{tokenAddress}, targetAddresses(universe))
}

func TestResolveInterfaces(t *testing.T) {
	deployments, options := fixture(t)
	proxy := common.HexToAddress("0x5000")
	deployments = append(deployments, Deployment{Address: proxy, RuntimeCode: []byte{0x02}, Artifact: newArtifact(t, "Proxy", counterAbi)})
	hooks := &TargetHooks{
		TargetInterfaces: []FuzzInterface{{Address: proxy, Artifacts: []string{"Token", "Missing"}}},
	}

	// Interfaces replace the native functions by default. The other deployments stay targeted.
	universe := Resolve(hooks, deployments, options)
	assert.Equal(t, []common.Address{counterAddress, tokenAddress, proxy}, targetAddresses(universe))
	assert.Equal(t, [][4]byte{selector("decrement()"), selector("increment()")}, universe.Target(counterAddress).Selectors())
	assert.Equal(t, [][4]byte{selector("transfer(address,uint256)")}, universe.Target(proxy).Selectors())

	// In union mode, the native functions are kept.
	options.InterfaceMode = InterfaceSelectorsUnion
	universe = Resolve(hooks, deployments, options)
	assert.ElementsMatch(t, [][4]byte{
		selector("transfer(address,uint256)"), selector("increment()"), selector("decrement()"),
	}, universe.Target(proxy).Selectors())
}

func TestResolveExplicitSendersMayBeReserved(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(&TargetHooks{TargetSenders: []common.Address{{}, alice, alice}}, deployments, options)
	assert.Equal(t, []common.Address{{}, alice}, universe.Senders())
}

func TestUniverseAddDynamic(t *testing.T) {
	deployments, options := fixture(t)
	counter := options.Artifacts.FindByName("Counter")
	token := options.Artifacts.FindByName("Token")
	created := common.HexToAddress("0x6000")

	// Without inclusion hooks, any non-excluded artifact is added to a clone only.
	universe := Resolve(&TargetHooks{ExcludeArtifacts: []string{"Token"}}, deployments, options)
	clone := universe.Clone()
	assert.False(t, clone.AddDynamic(created, token))
	assert.False(t, clone.AddDynamic(created, nil))
	assert.True(t, clone.AddDynamic(created, counter))
	assert.False(t, clone.AddDynamic(created, counter))
	assert.True(t, clone.Target(created).Dynamic)
	assert.Nil(t, universe.Target(created))

	// Dynamic targets do not change the fingerprint.
	assert.Equal(t, universe.Fingerprint(), clone.Fingerprint())

	// Selector and interface hooks do not restrict dynamic additions.
	universe = Resolve(&TargetHooks{
		TargetSelectors:  []FuzzSelector{{Address: counterAddress, Selectors: [][4]byte{selector("increment()")}}},
		TargetInterfaces: []FuzzInterface{{Address: tokenAddress, Artifacts: []string{"Token"}}},
	}, deployments, options)
	assert.True(t, universe.Clone().AddDynamic(created, token))

	// Inclusion-only sets only admit targeted artifacts.
	universe = Resolve(&TargetHooks{TargetContracts: []common.Address{counterAddress}}, deployments, options)
	assert.False(t, universe.Clone().AddDynamic(created, counter))
	universe = Resolve(&TargetHooks{TargetArtifacts: []string{"Counter"}}, deployments, options)
	assert.True(t, universe.Clone().AddDynamic(created, counter))
	assert.False(t, universe.Clone().AddDynamic(created, token))
}

func TestUniverseFingerprint(t *testing.T) {
	deployments, options := fixture(t)
	first := Resolve(nil, deployments, options)
	second := Resolve(nil, deployments, options)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Len(t, first.Fingerprint(), 64)

	// Changing the sender set, the targets or the invariants changes the fingerprint.
	assert.NotEqual(t, first.Fingerprint(), Resolve(&TargetHooks{ExcludeSenders: []common.Address{bob}}, deployments, options).Fingerprint())
	assert.NotEqual(t, first.Fingerprint(), Resolve(&TargetHooks{ExcludeContracts: []common.Address{tokenAddress}}, deployments, options).Fingerprint())
	options.InvariantSelectors = nil
	assert.NotEqual(t, first.Fingerprint(), Resolve(nil, deployments, options).Fingerprint())
}

func TestUniverseAddresses(t *testing.T) {
	deployments, options := fixture(t)
	universe := Resolve(nil, deployments, options)
	assert.Equal(t, []common.Address{counterAddress, tokenAddress, alice, bob}, universe.Addresses())
}
