// Package backend implements the composition system used to manage the
// Juju GUI deployment. A Backend is assembled from mixins selected by the
// charm configuration; each mixin contributes any of the Install, Start and
// Stop lifecycle steps, and all contributions are called in order. Mixins
// also contribute property values (deb packages, repositories, startup
// scripts) that are merged into a single value on the backend. Finally the
// backend can tell whether configuration values changed since the previous
// hook invocation, so lifecycle steps can act selectively.
package backend

import (
	"context"
	"fmt"

	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
)

// Service names driven by the backend lifecycle.
const (
	ServiceAgent   = "juju-api-agent"
	ServiceImprov  = "juju-api-improv"
	ServiceHaproxy = "haproxy"
	ServiceApache  = "apache2"
)

// Service control actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// GuiOptions collects the configuration handed to Operations.StartGui.
type GuiOptions struct {
	ConsoleEnabled bool
	LoginHelp      string
	ReadOnly       bool
	Staging        bool
	Sandbox        bool
	Secure         bool
	ServeTests     bool
	SSLCertPath    string
	CharmworldURL  string
}

// Operations is the set of system-level operations mixins rely on. The charm
// package provides the real implementation; tests substitute a recorder.
type Operations interface {
	// LegacyJuju reports whether the unit runs the legacy Python API
	// implementation (detected from the machine agent files).
	LegacyJuju() bool

	CheckPackages(ctx context.Context, pkgs ...string) (missing []string, err error)
	InstallPackages(ctx context.Context, pkgs ...string) error
	InstallRepositories(ctx context.Context, repos ...string) error
	AptUpdate(ctx context.Context) error

	ServiceControl(ctx context.Context, service, action string) error
	InstallStartupScripts(ctx context.Context, names ...string) error
	OpenPort(ctx context.Context, port int) error

	FetchRelease(ctx context.Context, source, logPath string) (tarball string, err error)
	FetchApi(ctx context.Context, branch string) error
	SetupRelease(ctx context.Context, tarball string) error
	SetupApache(ctx context.Context) error
	SaveOrCreateCertificates(ctx context.Context, certPath, certContents, keyContents string) error

	StartGui(ctx context.Context, opts GuiOptions) error
	StartAgent(ctx context.Context, certPath string) error
	StartImprov(ctx context.Context, stagingEnv, certPath string) error

	Log(msg string)
}

// Mixin is one element of the backend composition. Mixins additionally
// implement any of the lifecycle and property interfaces below.
type Mixin interface {
	Name() string
}

type installer interface {
	Install(ctx context.Context, b *Backend) error
}

type starter interface {
	Start(ctx context.Context, b *Backend) error
}

type stopper interface {
	Stop(ctx context.Context, b *Backend) error
}

type debsProvider interface {
	Debs() []string
}

type repositoriesProvider interface {
	Repositories() []string
}

type startupScriptsProvider interface {
	StartupScripts() []string
}

// Backend composes the methods and policy needed to manage the GUI
// deployment for the configured API implementation.
type Backend struct {
	Config     hookenv.Config
	PrevConfig hookenv.Config

	ops    Operations
	mixins []Mixin
}

// New builds a backend from the given charm configuration. prev is the
// configuration snapshot of the previous hook invocation, or nil on the
// first run. The mixin selection mirrors the deployment policy: the GUI is
// always installed; the API element depends on the implementation in use and
// on the staging/sandbox options; the GUI and startup elements close the
// list.
func New(cfg, prev hookenv.Config, ops Operations) (*Backend, error) {
	b := &Backend{Config: cfg, PrevConfig: prev, ops: ops}

	mixins := []Mixin{InstallMixin{}}

	staging := cfg.Bool("staging")
	sandbox := cfg.Bool("sandbox")
	if ops.LegacyJuju() {
		switch {
		case staging:
			mixins = append(mixins, ImprovMixin{})
		case sandbox:
			mixins = append(mixins, SandboxMixin{})
		default:
			mixins = append(mixins, AgentMixin{})
		}
	} else {
		if staging {
			return nil, fmt.Errorf("unable to use staging with the go backend")
		}
		if sandbox {
			return nil, fmt.Errorf("unable to use sandbox with the go backend")
		}
		mixins = append(mixins, GoMixin{})
	}

	mixins = append(mixins, GuiMixin{}, UpstartMixin{})
	b.mixins = mixins
	return b, nil
}

// Ops returns the system operations collaborator.
func (b *Backend) Ops() Operations { return b.ops }

// Get returns the configuration value for key, or an error if the key is
// missing.
func (b *Backend) Get(key string) (any, error) {
	value, ok := b.Config[key]
	if !ok {
		return nil, fmt.Errorf("missing config key %q", key)
	}
	return value, nil
}

// GetString returns the string configuration value for key, or an error if
// the key is missing.
func (b *Backend) GetString(key string) (string, error) {
	value, err := b.Get(key)
	if err != nil {
		return "", err
	}
	s, _ := value.(string)
	return s, nil
}

// BoolDefault returns the bool value for key, or def when the key is absent.
func (b *Backend) BoolDefault(key string, def bool) bool {
	value, ok := b.Config[key]
	if !ok {
		return def
	}
	v, _ := value.(bool)
	return v
}

// Different reports whether the current value of any of the given keys
// differs from the previous configuration. With no previous configuration
// every key is considered changed.
func (b *Backend) Different(keys ...string) bool {
	if b.PrevConfig == nil {
		return true
	}
	for _, key := range keys {
		if b.Config[key] != b.PrevConfig[key] {
			return true
		}
	}
	return false
}

// Install runs the install step of every mixin, in composition order,
// stopping at the first failure.
func (b *Backend) Install(ctx context.Context) error {
	for _, m := range b.mixins {
		i, ok := m.(installer)
		if !ok {
			continue
		}
		if err := i.Install(ctx, b); err != nil {
			return fmt.Errorf("%s install: %w", m.Name(), err)
		}
	}
	return nil
}

// Start runs the start step of every mixin, in composition order, stopping
// at the first failure.
func (b *Backend) Start(ctx context.Context) error {
	for _, m := range b.mixins {
		s, ok := m.(starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx, b); err != nil {
			return fmt.Errorf("%s start: %w", m.Name(), err)
		}
	}
	return nil
}

// Stop runs the stop step of every mixin, in composition order, stopping at
// the first failure.
func (b *Backend) Stop(ctx context.Context) error {
	for _, m := range b.mixins {
		s, ok := m.(stopper)
		if !ok {
			continue
		}
		if err := s.Stop(ctx, b); err != nil {
			return fmt.Errorf("%s stop: %w", m.Name(), err)
		}
	}
	return nil
}

// Debs merges the deb package lists contributed by all mixins.
func (b *Backend) Debs() []string {
	return b.merge(func(m Mixin) []string {
		if p, ok := m.(debsProvider); ok {
			return p.Debs()
		}
		return nil
	})
}

// Repositories merges the extra repository lists contributed by all mixins.
func (b *Backend) Repositories() []string {
	return b.merge(func(m Mixin) []string {
		if p, ok := m.(repositoriesProvider); ok {
			return p.Repositories()
		}
		return nil
	})
}

// StartupScripts merges the startup script lists contributed by all mixins.
func (b *Backend) StartupScripts() []string {
	return b.merge(func(m Mixin) []string {
		if p, ok := m.(startupScriptsProvider); ok {
			return p.StartupScripts()
		}
		return nil
	})
}

// merge collects per-mixin values preserving composition order and dropping
// duplicates.
func (b *Backend) merge(collect func(Mixin) []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, m := range b.mixins {
		for _, value := range collect(m) {
			if seen[value] {
				continue
			}
			seen[value] = true
			merged = append(merged, value)
		}
	}
	return merged
}

// MixinNames returns the names of the composed mixins, in order.
func (b *Backend) MixinNames() []string {
	names := make([]string, len(b.mixins))
	for i, m := range b.mixins {
		names[i] = m.Name()
	}
	return names
}
