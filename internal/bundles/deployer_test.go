package bundles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

func testBundle(name string) *Bundle {
	return &Bundle{
		Name: name,
		Services: map[string]any{
			"wordpress": map[string]any{"charm": "cs:precise/wordpress-15"},
		},
		Content: map[string]any{},
	}
}

// blockingImport lets the test control when each import finishes.
type blockingImport struct {
	started chan string
	release chan error
}

func newBlockingImport() *blockingImport {
	return &blockingImport{started: make(chan string, 10), release: make(chan error)}
}

func (b *blockingImport) fn(ctx context.Context, bundle *Bundle) error {
	b.started <- bundle.Name
	return <-b.release
}

func waitCompleted(t *testing.T, d *Deployer, watcherID uuid.UUID) model.DeploymentChange {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		changes, err := d.Next(ctx, watcherID)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if changes == nil {
			t.Fatal("watcher closed without a completed change")
		}
		for _, c := range changes {
			if c.Status == model.DeploymentCompleted {
				return c
			}
		}
	}
}

func TestDeployerImportCompletes(t *testing.T) {
	d := NewDeployer(func(ctx context.Context, bundle *Bundle) error { return nil }, nil, zerolog.Nop())
	defer d.Stop()

	id := d.Import(context.Background(), testBundle("bundle"), "user-admin")
	watcherID, err := d.Watch(id)
	if err != nil {
		t.Fatal(err)
	}
	done := waitCompleted(t, d, watcherID)
	if done.Error != "" {
		t.Errorf("unexpected deployment error %q", done.Error)
	}
	if done.DeploymentID != id {
		t.Errorf("change for deployment %s, want %s", done.DeploymentID, id)
	}
}

func TestDeployerImportError(t *testing.T) {
	d := NewDeployer(func(ctx context.Context, bundle *Bundle) error {
		return errors.New("bad wolf")
	}, nil, zerolog.Nop())
	defer d.Stop()

	id := d.Import(context.Background(), testBundle("bundle"), "user-admin")
	watcherID, _ := d.Watch(id)
	done := waitCompleted(t, d, watcherID)
	if done.Error != "bad wolf" {
		t.Errorf("deployment error = %q", done.Error)
	}
}

func TestDeployerSerializesImports(t *testing.T) {
	imp := newBlockingImport()
	d := NewDeployer(imp.fn, nil, zerolog.Nop())
	defer d.Stop()

	d.Import(context.Background(), testBundle("first"), "user-admin")
	second := d.Import(context.Background(), testBundle("second"), "user-admin")

	if name := <-imp.started; name != "first" {
		t.Fatalf("started %q first", name)
	}
	select {
	case name := <-imp.started:
		t.Fatalf("%q started while the first import is still running", name)
	case <-time.After(20 * time.Millisecond):
	}

	watcherID, _ := d.Watch(second)
	imp.release <- nil
	if name := <-imp.started; name != "second" {
		t.Fatalf("started %q second", name)
	}
	imp.release <- nil
	waitCompleted(t, d, watcherID)
}

func TestDeployerQueuePositions(t *testing.T) {
	imp := newBlockingImport()
	d := NewDeployer(imp.fn, nil, zerolog.Nop())
	defer d.Stop()

	d.Import(context.Background(), testBundle("first"), "user-admin")
	<-imp.started
	second := d.Import(context.Background(), testBundle("second"), "user-admin")
	watcherID, _ := d.Watch(second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	changes, err := d.Next(ctx, watcherID)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) == 0 || changes[0].Status != model.DeploymentScheduled {
		t.Fatalf("changes = %v", changes)
	}
	if changes[0].Queue == nil || *changes[0].Queue < 1 {
		t.Errorf("queue position = %v", changes[0].Queue)
	}

	imp.release <- nil
	<-imp.started
	imp.release <- nil
	done := waitCompleted(t, d, watcherID)
	if done.Error != "" {
		t.Errorf("deployment error = %q", done.Error)
	}
}

func TestDeployerCancelScheduled(t *testing.T) {
	imp := newBlockingImport()
	d := NewDeployer(imp.fn, nil, zerolog.Nop())
	defer d.Stop()

	d.Import(context.Background(), testBundle("first"), "user-admin")
	<-imp.started
	second := d.Import(context.Background(), testBundle("second"), "user-admin")
	watcherID, _ := d.Watch(second)

	if err := d.Cancel(context.Background(), second); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	done := waitCompleted(t, d, watcherID)
	if done.Error != "deployment cancelled" {
		t.Errorf("deployment error = %q", done.Error)
	}

	imp.release <- nil
	select {
	case name := <-imp.started:
		t.Fatalf("cancelled bundle %q was imported", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeployerCancelStarted(t *testing.T) {
	imp := newBlockingImport()
	d := NewDeployer(imp.fn, nil, zerolog.Nop())
	defer d.Stop()

	id := d.Import(context.Background(), testBundle("bundle"), "user-admin")
	<-imp.started
	if err := d.Cancel(context.Background(), id); err == nil {
		t.Fatal("cancelling a started deployment must fail")
	}
	imp.release <- nil
}

func TestDeployerCancelUnknown(t *testing.T) {
	d := NewDeployer(func(ctx context.Context, bundle *Bundle) error { return nil }, nil, zerolog.Nop())
	defer d.Stop()
	if err := d.Cancel(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for an unknown deployment")
	}
}

func TestDeployerStatus(t *testing.T) {
	d := NewDeployer(func(ctx context.Context, bundle *Bundle) error { return nil }, nil, zerolog.Nop())
	defer d.Stop()

	id := d.Import(context.Background(), testBundle("bundle"), "user-admin")
	watcherID, _ := d.Watch(id)
	waitCompleted(t, d, watcherID)

	status := d.Status()
	if len(status) != 1 {
		t.Fatalf("status = %v", status)
	}
	if status[0].DeploymentID != id || status[0].Status != model.DeploymentCompleted {
		t.Errorf("status = %v", status[0])
	}
}

// fakeHistory records persistence calls for inspection.
type fakeHistory struct {
	mu        sync.Mutex
	created   []model.Deployment
	completed map[uuid.UUID]string
}

func (f *fakeHistory) Create(ctx context.Context, dep *model.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *dep)
	return nil
}

func (f *fakeHistory) SetStatus(ctx context.Context, id uuid.UUID, status model.DeploymentStatus) error {
	return nil
}

func (f *fakeHistory) MarkCompleted(ctx context.Context, id uuid.UUID, deployError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = make(map[uuid.UUID]string)
	}
	f.completed[id] = deployError
	return nil
}

func TestDeployerRecordsHistory(t *testing.T) {
	history := &fakeHistory{}
	d := NewDeployer(func(ctx context.Context, bundle *Bundle) error { return nil }, history, zerolog.Nop())
	defer d.Stop()

	id := d.Import(context.Background(), testBundle("bundle"), "user-admin")
	watcherID, _ := d.Watch(id)
	waitCompleted(t, d, watcherID)

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.created) != 1 || history.created[0].Name != "bundle" {
		t.Errorf("created = %v", history.created)
	}
	if history.created[0].Requester != "user-admin" {
		t.Errorf("requester = %q", history.created[0].Requester)
	}
	if deployError, ok := history.completed[id]; !ok || deployError != "" {
		t.Errorf("completed = %v", history.completed)
	}
}
