package fuzzing

import (
	"github.com/crytic/invfuzz/events"
)

// FuzzerEvents defines event emitters for a Fuzzer.
type FuzzerEvents struct {
	// FuzzerStarting emits events when the Fuzzer initialized state and is about to begin running campaigns.
	FuzzerStarting events.EventEmitter[FuzzerStartingEvent]

	// FuzzerStopping emits events when the Fuzzer finished or stopped running campaigns.
	FuzzerStopping events.EventEmitter[FuzzerStoppingEvent]

	// WorkerCreated emits events when the Fuzzer creates a new FuzzerWorker.
	WorkerCreated events.EventEmitter[FuzzerWorkerCreatedEvent]

	// WorkerDestroyed emits events when a FuzzerWorker ran out of campaigns and exited.
	WorkerDestroyed events.EventEmitter[FuzzerWorkerDestroyedEvent]

	// CampaignStarting emits events when a FuzzerWorker is about to run a campaign against an invariant test.
	CampaignStarting events.EventEmitter[CampaignStartingEvent]

	// CampaignFinished emits events when a FuzzerWorker finished a campaign and recorded its result.
	CampaignFinished events.EventEmitter[CampaignFinishedEvent]
}

// FuzzerStartingEvent describes an event where a Fuzzer has initialized all state variables and is about to spin up
// FuzzerWorker instances to run the campaigns.
type FuzzerStartingEvent struct {
	// Fuzzer represents the instance of the Fuzzer for which the event occurred.
	Fuzzer *Fuzzer
}

// FuzzerStoppingEvent describes an event where a Fuzzer is exiting.
type FuzzerStoppingEvent struct {
	// Fuzzer represents the instance of the Fuzzer for which the event occurred.
	Fuzzer *Fuzzer

	// Err describes a potential error returned by the fuzzer run.
	Err error
}

// FuzzerWorkerCreatedEvent describes an event where a FuzzerWorker is created by a Fuzzer.
type FuzzerWorkerCreatedEvent struct {
	// Worker represents the instance of the FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker
}

// FuzzerWorkerDestroyedEvent describes an event where a FuzzerWorker exited.
type FuzzerWorkerDestroyedEvent struct {
	// Worker represents the instance of the FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker
}

// CampaignStartingEvent describes an event where a FuzzerWorker is about to run a campaign.
type CampaignStartingEvent struct {
	// Worker represents the instance of the FuzzerWorker running the campaign.
	Worker *FuzzerWorker

	// Campaign describes the campaign.
	Campaign *Campaign
}

// CampaignFinishedEvent describes an event where a FuzzerWorker finished a campaign.
type CampaignFinishedEvent struct {
	// Worker represents the instance of the FuzzerWorker which ran the campaign.
	Worker *FuzzerWorker

	// Result describes the recorded result of the campaign.
	Result *TestResult
}
