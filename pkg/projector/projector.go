// Package projector runs a single projection's poll-and-apply loop as a
// long-lived background worker, per the checkpointed, idempotent,
// at-least-once contract: read a batch after the last checkpoint, apply
// it, advance the checkpoint, repeat.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/idgen"
	"github.com/plaenen/bankledger/pkg/messaging"
	"github.com/plaenen/bankledger/pkg/observability"
	"github.com/plaenen/bankledger/pkg/store"
)

const (
	// DefaultBatchSize is the number of events read from the store per
	// iteration of the poll loop.
	DefaultBatchSize = 100

	// DefaultPollInterval is how long the loop sleeps after an empty
	// batch before polling again.
	DefaultPollInterval = 400 * time.Millisecond

	// DefaultErrorBackoff is how long the loop sleeps after a failed
	// batch application before retrying from the last good checkpoint.
	DefaultErrorBackoff = 2 * time.Second
)

// checkpointedProjection is the subset of *sqlite.SQLiteProjection the
// loop needs: the domain-facing store.Projection plus the concrete
// checkpoint accessor the generic interface doesn't carry.
type checkpointedProjection interface {
	store.Projection
	GetCheckpoint(ctx context.Context) (*store.ProjectionCheckpoint, error)
	GetStatus(ctx context.Context) (*store.ProjectionState, error)
}

// Projector drives a checkpointedProjection's poll loop and exposes it
// as a runner.Service.
type Projector struct {
	name          string
	projection    checkpointedProjection
	eventStore    store.EventStore
	batchSize     int
	pollInterval  time.Duration
	errorBackoff  time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
	eventBus      messaging.EventBus
	wakeSub       messaging.Subscription
	wake          chan struct{}
	stopLoop      context.CancelFunc
	loopStopped   chan struct{}
}

// Option configures a Projector.
type Option func(*Projector)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(p *Projector) { p.batchSize = n }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Projector) { p.pollInterval = d }
}

// WithErrorBackoff overrides DefaultErrorBackoff.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Projector) { p.errorBackoff = d }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

// WithMetrics wires otel instruments for projection lag and errors.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Projector) { p.metrics = metrics }
}

// WithWakeChannel subscribes the loop to bus for "stream touched"
// notifications so an empty-batch sleep can be cut short. This is a
// latency optimization only: the loop still polls on its own interval,
// so a missed or delayed notification never stalls projection.
func WithWakeChannel(bus messaging.EventBus) Option {
	return func(p *Projector) { p.eventBus = bus }
}

// New creates a Projector driving projection's loop against eventStore.
func New(name string, projection checkpointedProjection, eventStore store.EventStore, opts ...Option) *Projector {
	p := &Projector{
		name:         name,
		projection:   projection,
		eventStore:   eventStore,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		errorBackoff: DefaultErrorBackoff,
		logger:       slog.Default(),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements runner.Service.
func (p *Projector) Name() string {
	return "projector:" + p.name
}

// Start subscribes the optional wake channel and launches the poll
// loop in the background. It returns once the loop goroutine is
// running; it does not block on the loop itself.
func (p *Projector) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	p.stopLoop = cancel
	p.loopStopped = make(chan struct{})

	if p.eventBus != nil {
		sub, err := p.eventBus.Subscribe(messaging.EventFilter{}, func(*domain.EventEnvelope) error {
			select {
			case p.wake <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil {
			p.logger.Warn("projector: failed to subscribe wake channel, falling back to polling only", "projector", p.name, "error", err)
		} else {
			p.wakeSub = sub
		}
	}

	go p.run(loopCtx)

	p.logger.Info("projector started", "projector", p.name, "pollInterval", p.pollInterval, "batchSize", p.batchSize)
	return nil
}

// Stop signals the loop to finish its current batch and exit, waiting
// up to the context deadline for it to do so.
func (p *Projector) Stop(ctx context.Context) error {
	if p.wakeSub != nil {
		_ = p.wakeSub.Unsubscribe()
	}
	if p.stopLoop != nil {
		p.stopLoop()
	}

	select {
	case <-p.loopStopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info("projector stopped", "projector", p.name)
	return nil
}

// HealthCheck reports unhealthy if the projection's own operational
// status (as tracked in projection_status) is FAILED. A status row
// that hasn't been written yet (ErrNotFound) is treated as healthy:
// the projection simply hasn't run a rebuild or hit an error yet.
func (p *Projector) HealthCheck(ctx context.Context) error {
	state, err := p.projection.GetStatus(ctx)
	if err != nil {
		if errors.Is(err, bankerrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("projector %s: load status: %w", p.name, err)
	}
	if state.Status == store.ProjectionStatusFailed {
		return fmt.Errorf("projector %s: projection status is FAILED: %s", p.name, state.Message)
	}
	return nil
}

// run is the poll→batch→apply→checkpoint loop (SPEC step order: read
// checkpoint, load batch, apply each event transactionally, advance
// checkpoint, sleep or retry).
func (p *Projector) run(ctx context.Context) {
	defer close(p.loopStopped)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batchID := idgen.MustGenerateSortableID()
		applied, lastTimestamp, err := p.applyNextBatch(ctx, batchID)
		if err != nil {
			p.logger.Error("projector batch failed, will retry from last checkpoint", "projector", p.name, "batch_id", batchID, "error", err)
			if p.metrics != nil {
				p.metrics.RecordProjectionError(ctx, p.name, errorType(err))
			}
			if !p.sleep(ctx, p.errorBackoff) {
				return
			}
			continue
		}

		if p.metrics != nil && applied > 0 {
			p.metrics.RecordProjectionLag(ctx, p.name, time.Since(lastTimestamp).Seconds())
		}

		if applied == p.batchSize {
			// Batch was full; more events are likely waiting, so loop
			// immediately instead of sleeping.
			continue
		}

		if !p.sleepOrWake(ctx, p.pollInterval) {
			return
		}
	}
}

// applyNextBatch reads at most batchSize events after the projection's
// current checkpoint and applies each one in order, stopping at the
// first error (the caller retries the whole loop from whatever
// checkpoint position the successful prefix left behind).
func (p *Projector) applyNextBatch(ctx context.Context, batchID string) (applied int, lastTimestamp time.Time, err error) {
	checkpoint, err := p.projection.GetCheckpoint(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}

	events, err := p.eventStore.LoadSince(checkpoint.Position, p.batchSize)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(events) == 0 {
		return 0, time.Time{}, nil
	}

	for _, event := range events {
		envelope := &domain.EventEnvelope{Event: *event}
		if err := p.projection.Handle(ctx, envelope); err != nil {
			return applied, lastTimestamp, err
		}
		applied++
		lastTimestamp = event.Timestamp
	}

	p.logger.Debug("projector batch applied", "projector", p.name, "batch_id", batchID, "applied", applied)
	return applied, lastTimestamp, nil
}

// sleep waits for d or ctx cancellation, returning false on cancellation.
func (p *Projector) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepOrWake waits for d, a wake notification, or ctx cancellation,
// whichever comes first.
func (p *Projector) sleepOrWake(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}
