// Package hook runs the charm lifecycle hooks. Each invocation reads the
// charm configuration, composes a backend from it and drives the lifecycle
// step matching the invoked hook, all inside a scoped hook-logging context.
package hook

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/Tiger66639/juju-gui-charm/internal/backend"
	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
)

// Hook names dispatched by Run.
const (
	Install       = "install"
	Start         = "start"
	Stop          = "stop"
	ConfigChanged = "config-changed"
	UpgradeCharm  = "upgrade-charm"
)

// Environment is the part of the hook environment Run needs: the
// configuration accessor and the framework log.
type Environment interface {
	Config(ctx context.Context) (hookenv.Config, error)
	Log(msg string)
}

type commandLogger interface {
	SetCommandLog(path string)
}

// LogHook logs when a hook starts and stops its execution. The exit line is
// emitted on every exit path. The captured output of a failed external
// command is also logged before the error propagates.
func LogHook(env Environment, name string, fn func() error) error {
	env.Log(">>> Entering " + name)
	defer env.Log("<<< Exiting " + name)
	err := fn()
	if err != nil {
		var cmdErr *hookenv.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Output != "" {
			env.Log("Exception caught:")
			env.Log(cmdErr.Output)
		}
	}
	return err
}

// Run executes the named hook: fetch the configuration, compose a backend
// with it and the previous invocation's snapshot, run the lifecycle step,
// and persist the configuration snapshot for the next invocation.
//
// A configuration fetch failure means no backend is constructed; a backend
// construction failure means no lifecycle step runs.
func Run(ctx context.Context, name string, env Environment, ops backend.Operations, snapshotPath string) error {
	return LogHook(env, name, func() error {
		cfg, err := env.Config(ctx)
		if err != nil {
			return fmt.Errorf("read charm config: %w", err)
		}
		if cl, ok := ops.(commandLogger); ok {
			if path := cfg.String("command-log-file"); path != "" {
				cl.SetCommandLog(path)
			}
		}
		prev, err := LoadSnapshot(snapshotPath)
		if err != nil {
			env.Log(fmt.Sprintf("Discarding unreadable config snapshot: %v.", err))
			prev = nil
		}

		b, err := backend.New(cfg, prev, ops)
		if err != nil {
			return err
		}

		switch name {
		case Install:
			err = b.Install(ctx)
		case Start:
			err = b.Start(ctx)
		case Stop:
			err = b.Stop(ctx)
		case UpgradeCharm:
			if err = b.Install(ctx); err == nil {
				err = b.Start(ctx)
			}
		case ConfigChanged:
			err = configChanged(ctx, env, b, ops)
		default:
			return fmt.Errorf("unknown hook %q", name)
		}
		if err != nil {
			return err
		}
		return SaveSnapshot(snapshotPath, cfg)
	})
}

// configChanged restarts the deployment when the configuration changed since
// the previous hook invocation: the backend composed from the old
// configuration is stopped, then the new one is installed and started.
func configChanged(ctx context.Context, env Environment, b *backend.Backend, ops backend.Operations) error {
	if b.PrevConfig != nil {
		if reflect.DeepEqual(map[string]any(b.Config), map[string]any(b.PrevConfig)) {
			env.Log("No configuration changes, exiting.")
			return nil
		}
		prevBackend, err := backend.New(b.PrevConfig, nil, ops)
		if err == nil {
			if err := prevBackend.Stop(ctx); err != nil {
				env.Log(fmt.Sprintf("Error stopping the old backend: %v.", err))
			}
		}
	}
	if err := b.Install(ctx); err != nil {
		return err
	}
	return b.Start(ctx)
}
