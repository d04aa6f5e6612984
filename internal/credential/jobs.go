package credential

// JobKind selects the work a refresh job performs.
type JobKind int

const (
	// JobMaintain refreshes the access token of an already-known
	// credential.
	JobMaintain JobKind = iota
	// JobOnboard refreshes first and then calls loadCodeAssist to
	// discover the companion project id before first persistence.
	JobOnboard
)

func (k JobKind) String() string {
	if k == JobOnboard {
		return "onboard"
	}
	return "maintain"
}

// Job is one unit of work for the refresh pipeline. Cred is a full copy;
// the pipeline mutates it and hands it back through the Outcome.
type Job struct {
	Kind JobKind
	// ID is the store id for maintain jobs; zero for onboard jobs that
	// have not been persisted yet.
	ID   int64
	Cred Credential

	// Reply, when non-nil, receives this job's outcome instead of the
	// pipeline's shared outcome channel. Used by onboarding submissions.
	Reply chan Outcome
}

// Outcome reports a finished job. Cred carries the refreshed credential
// when Err is nil.
type Outcome struct {
	Job  Job
	Cred Credential
	Err  error
}

// RefreshQueue is the coordinator's view of the refresh pipeline.
type RefreshQueue interface {
	// Enqueue submits a job without blocking; a full queue or stopped
	// pipeline returns an error and the job is dropped.
	Enqueue(Job) error
	// Outcomes streams completed jobs that carry no private Reply
	// channel, in completion order.
	Outcomes() <-chan Outcome
}
