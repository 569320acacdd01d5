package bundles

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

// Observer tracks one change stream per deployment and routes watcher ids
// back to the deployment they observe.
type Observer struct {
	mu          sync.Mutex
	deployments map[uuid.UUID]*Watcher
	owners      map[uuid.UUID]uuid.UUID // watcher id -> deployment id
}

// NewObserver returns an empty observer.
func NewObserver() *Observer {
	return &Observer{
		deployments: make(map[uuid.UUID]*Watcher),
		owners:      make(map[uuid.UUID]uuid.UUID),
	}
}

// AddDeployment starts tracking a new deployment and returns its id.
func (o *Observer) AddDeployment() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := uuid.New()
	o.deployments[id] = NewWatcher()
	return id
}

// AddWatcher registers a reader on the deployment's change stream and
// returns the watcher id to pass to Next.
func (o *Observer) AddWatcher(deploymentID uuid.UUID) (uuid.UUID, error) {
	o.mu.Lock()
	watcher, ok := o.deployments[deploymentID]
	o.mu.Unlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("deployment not found: %s", deploymentID)
	}
	watcherID := watcher.Register()
	o.mu.Lock()
	o.owners[watcherID] = deploymentID
	o.mu.Unlock()
	return watcherID, nil
}

// WatcherStream resolves a watcher id to its deployment's change stream.
func (o *Observer) WatcherStream(watcherID uuid.UUID) (*Watcher, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	deploymentID, ok := o.owners[watcherID]
	if !ok {
		return nil, ErrUnknownWatcher
	}
	return o.deployments[deploymentID], nil
}

// NotifyPosition records the deployment's position in the import queue.
// Position zero means the import has started.
func (o *Observer) NotifyPosition(deploymentID uuid.UUID, position int) {
	watcher := o.watcherFor(deploymentID)
	if watcher == nil {
		return
	}
	change := model.DeploymentChange{
		DeploymentID: deploymentID,
		Time:         time.Now().Unix(),
	}
	if position == 0 {
		change.Status = model.DeploymentStarted
	} else {
		change.Status = model.DeploymentScheduled
		queue := position
		change.Queue = &queue
	}
	watcher.Put(change)
}

// NotifyCompleted records the deployment outcome and closes its stream.
// An empty deployError means success.
func (o *Observer) NotifyCompleted(deploymentID uuid.UUID, deployError string) {
	watcher := o.watcherFor(deploymentID)
	if watcher == nil {
		return
	}
	watcher.Put(model.DeploymentChange{
		DeploymentID: deploymentID,
		Status:       model.DeploymentCompleted,
		Time:         time.Now().Unix(),
		Error:        deployError,
	})
	watcher.Close()
}

// LastChanges returns the most recent change of every tracked deployment.
func (o *Observer) LastChanges() []model.DeploymentChange {
	o.mu.Lock()
	watchers := make([]*Watcher, 0, len(o.deployments))
	for _, watcher := range o.deployments {
		watchers = append(watchers, watcher)
	}
	o.mu.Unlock()

	var last []model.DeploymentChange
	for _, watcher := range watchers {
		if change := watcher.Last(); change != nil {
			last = append(last, *change)
		}
	}
	return last
}

func (o *Observer) watcherFor(deploymentID uuid.UUID) *Watcher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deployments[deploymentID]
}
