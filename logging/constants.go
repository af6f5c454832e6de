package logging

// These constants are used to identify the various services that may do some logging
const (
	// CHAIN_SERVICE is the constant used to identify the chain (execution adapter) package
	CHAIN_SERVICE = "chain"
	// FUZZING_SERVICE is the constant used to identify the fuzzing package
	FUZZING_SERVICE = "fuzzing"
	// CORPUS_SERVICE is the constant used to identify the corpus package
	CORPUS_SERVICE = "corpus"
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
)

// These constants are the structured keys used when logging campaign information.
const (
	// TEST_ID is the key under which a test identity is logged
	TEST_ID = "testId"
	// RUN_ID is the key under which a campaign run identifier is logged
	RUN_ID = "runId"
)
