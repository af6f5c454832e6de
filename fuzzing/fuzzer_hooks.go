package fuzzing

// FuzzerHooks defines the hooks that can be used for the Fuzzer on an API level.
type FuzzerHooks struct {
	// NewAdapterFactoryFunc describes the function used to create the AdapterFactory of a test contract. Every
	// campaign against the test contract's invariants spawns its adapters from it.
	NewAdapterFactoryFunc NewAdapterFactoryFunc
}

// NewAdapterFactoryFunc describes a function which creates the AdapterFactory for the named test contract.
// Returns the factory, or an error if one occurred.
type NewAdapterFactoryFunc func(fuzzer *Fuzzer, testContract string) (AdapterFactory, error)

// chainAdapterFactoryFunc creates TestChain backed factories from the Fuzzer's artifacts and configuration.
func chainAdapterFactoryFunc(fuzzer *Fuzzer, testContract string) (AdapterFactory, error) {
	return NewChainAdapterFactory(fuzzer.artifacts, testContract, &fuzzer.config.Fuzzing)
}
