package bundles

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

// ImportFunc performs the actual bundle import against the Juju API.
type ImportFunc func(ctx context.Context, bundle *Bundle) error

// HistoryStore persists the deployment history. The deployer keeps working
// when persistence fails; failures are only logged.
type HistoryStore interface {
	Create(ctx context.Context, dep *model.Deployment) error
	SetStatus(ctx context.Context, id uuid.UUID, status model.DeploymentStatus) error
	MarkCompleted(ctx context.Context, id uuid.UUID, deployError string) error
}

type job struct {
	id        uuid.UUID
	bundle    *Bundle
	cancelled bool
	started   bool
}

// Deployer schedules bundle imports. Imports run one at a time in arrival
// order; watchers observe queue positions and completion through the
// Observer.
type Deployer struct {
	observer *Observer
	importFn ImportFunc
	history  HistoryStore
	logger   zerolog.Logger

	mu    sync.Mutex
	queue []*job
	jobs  map[uuid.UUID]*job

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewDeployer returns a deployer running imports through importFn. history
// may be nil when persistence is not configured.
func NewDeployer(importFn ImportFunc, history HistoryStore, logger zerolog.Logger) *Deployer {
	d := &Deployer{
		observer: NewObserver(),
		importFn: importFn,
		history:  history,
		logger:   logger,
		jobs:     make(map[uuid.UUID]*job),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Stop waits for the running import to finish and stops the worker.
// Queued imports are not run.
func (d *Deployer) Stop() {
	close(d.done)
	d.wg.Wait()
}

// Import schedules a bundle deployment and returns its deployment id.
func (d *Deployer) Import(ctx context.Context, bundle *Bundle, requester string) uuid.UUID {
	id := d.observer.AddDeployment()
	j := &job{id: id, bundle: bundle}

	d.mu.Lock()
	d.queue = append(d.queue, j)
	d.jobs[id] = j
	position := len(d.queue)
	d.mu.Unlock()

	if d.history != nil {
		dep := &model.Deployment{
			ID:        id,
			Name:      bundle.Name,
			Requester: requester,
			Status:    model.DeploymentScheduled,
		}
		if err := d.history.Create(ctx, dep); err != nil {
			d.logger.Error().Err(err).Str("deployment", id.String()).Msg("record deployment")
		}
	}

	d.observer.NotifyPosition(id, position)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return id
}

// Watch registers a watcher on the deployment's change stream.
func (d *Deployer) Watch(deploymentID uuid.UUID) (uuid.UUID, error) {
	return d.observer.AddWatcher(deploymentID)
}

// Next blocks until the watcher has unseen changes and returns them. It
// returns (nil, nil) once the deployment is complete and all changes have
// been consumed.
func (d *Deployer) Next(ctx context.Context, watcherID uuid.UUID) ([]model.DeploymentChange, error) {
	stream, err := d.observer.WatcherStream(watcherID)
	if err != nil {
		return nil, err
	}
	return stream.Next(ctx, watcherID)
}

// Status returns the most recent change of every known deployment.
func (d *Deployer) Status() []model.DeploymentChange {
	return d.observer.LastChanges()
}

// Cancel removes a scheduled deployment from the queue. Deployments that
// already started cannot be cancelled.
func (d *Deployer) Cancel(ctx context.Context, deploymentID uuid.UUID) error {
	d.mu.Lock()
	j, ok := d.jobs[deploymentID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("deployment not found: %s", deploymentID)
	}
	if j.started {
		d.mu.Unlock()
		return fmt.Errorf("unable to cancel the deployment: import already started")
	}
	if j.cancelled {
		d.mu.Unlock()
		return fmt.Errorf("unable to cancel the deployment: already cancelled")
	}
	j.cancelled = true
	d.removeFromQueue(j)
	d.mu.Unlock()

	d.observer.NotifyCompleted(deploymentID, "deployment cancelled")
	d.recordCompletion(ctx, deploymentID, "deployment cancelled")
	d.notifyQueuePositions()
	return nil
}

// removeFromQueue drops j from the pending queue. Caller holds the lock.
func (d *Deployer) removeFromQueue(j *job) {
	for i, queued := range d.queue {
		if queued == j {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
}

// notifyQueuePositions tells every pending deployment its current position.
func (d *Deployer) notifyQueuePositions() {
	d.mu.Lock()
	pending := make([]uuid.UUID, len(d.queue))
	for i, j := range d.queue {
		pending[i] = j.id
	}
	d.mu.Unlock()
	for i, id := range pending {
		d.observer.NotifyPosition(id, i+1)
	}
}

func (d *Deployer) recordCompletion(ctx context.Context, id uuid.UUID, deployError string) {
	if d.history == nil {
		return
	}
	if err := d.history.MarkCompleted(ctx, id, deployError); err != nil {
		d.logger.Error().Err(err).Str("deployment", id.String()).Msg("record deployment completion")
	}
}

func (d *Deployer) worker() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			select {
			case <-d.done:
				return
			default:
			}
			j := d.nextJob()
			if j == nil {
				break
			}
			d.runImport(ctx, j)
		}
	}
}

// nextJob pops the first pending job, marks it started and updates queue
// positions. Returns nil when the queue is empty.
func (d *Deployer) nextJob() *job {
	d.mu.Lock()
	var j *job
	for len(d.queue) > 0 {
		candidate := d.queue[0]
		d.queue = d.queue[1:]
		if candidate.cancelled {
			continue
		}
		candidate.started = true
		j = candidate
		break
	}
	d.mu.Unlock()
	if j == nil {
		return nil
	}
	d.observer.NotifyPosition(j.id, 0)
	d.notifyQueuePositions()
	if d.history != nil {
		if err := d.history.SetStatus(context.Background(), j.id, model.DeploymentStarted); err != nil {
			d.logger.Error().Err(err).Str("deployment", j.id.String()).Msg("record deployment start")
		}
	}
	return j
}

func (d *Deployer) runImport(ctx context.Context, j *job) {
	d.logger.Info().Str("deployment", j.id.String()).Str("bundle", j.bundle.Name).Msg("bundle import started")
	var deployError string
	if err := d.importFn(ctx, j.bundle); err != nil {
		deployError = err.Error()
		d.logger.Error().Err(err).Str("deployment", j.id.String()).Msg("bundle import failed")
	} else {
		d.logger.Info().Str("deployment", j.id.String()).Msg("bundle import completed")
	}
	d.observer.NotifyCompleted(j.id, deployError)
	d.recordCompletion(ctx, j.id, deployError)
}
