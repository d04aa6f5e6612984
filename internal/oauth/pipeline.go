package oauth

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"pollux-go/internal/constants"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/monitoring"
	"pollux-go/internal/monitoring/tracing"
)

// Pipeline executes refresh jobs on a bounded worker pool. All workers
// share one rate limiter so the Google token endpoint sees at most ten
// calls per minute regardless of concurrency.
type Pipeline struct {
	refresher *Refresher
	onboarder *Onboarder
	limiter   *rate.Limiter

	jobs     chan credential.Job
	outcomes chan credential.Outcome
	workers  int

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewPipeline builds a pipeline with the given worker count (floored at
// one). Run must be called before jobs make progress.
func NewPipeline(refresher *Refresher, onboarder *Onboarder, workers int) *Pipeline {
	if workers < constants.MinRefreshConcurrency {
		workers = constants.MinRefreshConcurrency
	}
	return &Pipeline{
		refresher: refresher,
		onboarder: onboarder,
		limiter:   rate.NewLimiter(rate.Every(constants.RefreshRateInterval), constants.RefreshRateBurst),
		jobs:      make(chan credential.Job, constants.RefreshQueueCapacity),
		outcomes:  make(chan credential.Outcome, constants.RefreshQueueCapacity),
		workers:   workers,
		stopped:   make(chan struct{}),
	}
}

// Enqueue submits a job without blocking. A full queue or stopped
// pipeline fails fast; the caller restores the credential's prior state.
func (p *Pipeline) Enqueue(job credential.Job) error {
	select {
	case <-p.stopped:
		return apperrors.Coordinator("refresh pipeline stopped", nil)
	default:
	}
	select {
	case p.jobs <- job:
		monitoring.RefreshQueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return apperrors.Coordinator("refresh queue full", nil)
	}
}

// Outcomes streams completed jobs that carry no private reply channel.
func (p *Pipeline) Outcomes() <-chan credential.Outcome {
	return p.outcomes
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pipeline) Run(ctx context.Context) error {
	log.WithField("workers", p.workers).Info("refresh pipeline started")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()

	p.closeOnce.Do(func() { close(p.stopped) })
	log.Info("refresh pipeline stopped")
	return nil
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain(ctx.Err())
			return
		case job := <-p.jobs:
			monitoring.RefreshQueueDepth.Set(float64(len(p.jobs)))
			if err := p.limiter.Wait(ctx); err != nil {
				p.abort(job, err)
				p.drain(err)
				return
			}
			p.deliver(ctx, job, p.execute(ctx, job))
		}
	}
}

// drain fails over jobs still buffered at shutdown so reply channels and
// the coordinator are not left waiting on work that will never run.
func (p *Pipeline) drain(cause error) {
	for {
		select {
		case job := <-p.jobs:
			p.abort(job, cause)
		default:
			monitoring.RefreshQueueDepth.Set(float64(len(p.jobs)))
			return
		}
	}
}

// abort reports a job as failed without executing it. Non-blocking: at
// shutdown nobody may be left to read the shared stream.
func (p *Pipeline) abort(job credential.Job, cause error) {
	outcome := credential.Outcome{
		Job: job,
		Err: apperrors.Coordinator("refresh pipeline stopped", cause),
	}
	target := p.outcomes
	if job.Reply != nil {
		target = job.Reply
	}
	select {
	case target <- outcome:
	default:
	}
}

// execute runs one job end to end and reports the outcome.
func (p *Pipeline) execute(ctx context.Context, job credential.Job) credential.Outcome {
	ctx, span := tracing.StartSpan(ctx, "refresh", "refresh."+job.Kind.String())
	span.SetAttributes(
		attribute.Int64("credential.id", job.ID),
		attribute.String("credential.project_id", job.Cred.ProjectID),
	)
	defer span.End()

	start := time.Now()
	cred, err := p.run(ctx, job)
	monitoring.RefreshDuration.Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = apperrors.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		log.WithFields(log.Fields{
			"kind":       job.Kind.String(),
			"id":         job.ID,
			"project_id": job.Cred.ProjectID,
		}).WithError(err).Warn("refresh job failed")
	}
	monitoring.CredentialRefreshesTotal.WithLabelValues(job.Kind.String(), status).Inc()

	return credential.Outcome{Job: job, Cred: cred, Err: err}
}

func (p *Pipeline) run(ctx context.Context, job credential.Job) (credential.Credential, error) {
	var cred credential.Credential
	err := withRetry(ctx, func() error {
		var refreshErr error
		cred, refreshErr = p.refresher.Refresh(ctx, job.Cred)
		return refreshErr
	})
	if err != nil {
		return credential.Credential{}, err
	}

	if job.Kind == credential.JobOnboard {
		err = withRetry(ctx, func() error {
			var onboardErr error
			cred, onboardErr = p.onboarder.LoadCodeAssist(ctx, cred)
			return onboardErr
		})
		if err != nil {
			return credential.Credential{}, err
		}
	}
	return cred, nil
}

// deliver routes the outcome to the job's private reply channel when set,
// otherwise to the shared outcome stream consumed by the coordinator.
func (p *Pipeline) deliver(ctx context.Context, job credential.Job, outcome credential.Outcome) {
	target := p.outcomes
	if job.Reply != nil {
		target = job.Reply
	}
	select {
	case target <- outcome:
	case <-ctx.Done():
	}
}
