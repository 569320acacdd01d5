package backend

import (
	"context"
)

// InstallMixin provides for the GUI and its dependencies to be installed.
type InstallMixin struct{}

func (InstallMixin) Name() string { return "install" }

// Install installs missing deb dependencies and, when the GUI source
// changed, fetches and sets up a new release.
func (InstallMixin) Install(ctx context.Context, b *Backend) error {
	ops := b.Ops()
	missing, err := ops.CheckPackages(ctx, b.Debs()...)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		if b.BoolDefault("allow-additional-deb-repositories", true) {
			if err := ops.InstallRepositories(ctx, b.Repositories()...); err != nil {
				return err
			}
		} else if err := ops.AptUpdate(ctx); err != nil {
			return err
		}
		if err := ops.InstallPackages(ctx, missing...); err != nil {
			return err
		}
	}
	if b.Different("juju-gui-source") {
		source, err := b.GetString("juju-gui-source")
		if err != nil {
			return err
		}
		tarball, err := ops.FetchRelease(ctx, source, b.Config.String("command-log-file"))
		if err != nil {
			return err
		}
		if err := ops.SetupRelease(ctx, tarball); err != nil {
			return err
		}
	}
	return nil
}

// UpstartMixin manages the services fronting the GUI (haproxy and apache)
// and their startup configuration.
type UpstartMixin struct{}

func (UpstartMixin) Name() string { return "upstart" }

func (UpstartMixin) Debs() []string {
	return []string{"curl", "openssl", "haproxy", "apache2"}
}

func (UpstartMixin) StartupScripts() []string {
	return []string{"haproxy"}
}

// Install sets up apache, refreshes the SSL material when the related
// configuration changed, and installs the startup scripts.
func (m UpstartMixin) Install(ctx context.Context, b *Backend) error {
	ops := b.Ops()
	if err := ops.SetupApache(ctx); err != nil {
		return err
	}
	ops.Log("Setting up haproxy and apache startup scripts.")
	if b.Different("ssl-cert-path", "ssl-cert-contents", "ssl-key-contents") {
		certPath, err := b.GetString("ssl-cert-path")
		if err != nil {
			return err
		}
		err = ops.SaveOrCreateCertificates(
			ctx, certPath, b.Config.String("ssl-cert-contents"), b.Config.String("ssl-key-contents"))
		if err != nil {
			return err
		}
	}
	return ops.InstallStartupScripts(ctx, m.StartupScripts()...)
}

func (UpstartMixin) Start(ctx context.Context, b *Backend) error {
	ops := b.Ops()
	if err := ops.ServiceControl(ctx, ServiceApache, ActionRestart); err != nil {
		return err
	}
	return ops.ServiceControl(ctx, ServiceHaproxy, ActionRestart)
}

func (UpstartMixin) Stop(ctx context.Context, b *Backend) error {
	ops := b.Ops()
	if err := ops.ServiceControl(ctx, ServiceHaproxy, ActionStop); err != nil {
		return err
	}
	return ops.ServiceControl(ctx, ServiceApache, ActionStop)
}

// GuiMixin starts the GUI itself and exposes its ports.
type GuiMixin struct{}

func (GuiMixin) Name() string { return "gui" }

func (GuiMixin) Repositories() []string {
	return []string{"ppa:juju-gui/ppa"}
}

func (GuiMixin) Start(ctx context.Context, b *Backend) error {
	ops := b.Ops()
	loginHelp, err := b.GetString("login-help")
	if err != nil {
		return err
	}
	certPath, err := b.GetString("ssl-cert-path")
	if err != nil {
		return err
	}
	opts := GuiOptions{
		ConsoleEnabled: b.Config.Bool("juju-gui-console-enabled"),
		LoginHelp:      loginHelp,
		ReadOnly:       b.Config.Bool("read-only"),
		Staging:        b.Config.Bool("staging"),
		Sandbox:        b.Config.Bool("sandbox"),
		Secure:         b.BoolDefault("secure", true),
		ServeTests:     b.Config.Bool("serve-tests"),
		SSLCertPath:    certPath,
		CharmworldURL:  b.Config.String("charmworld-url"),
	}
	if err := ops.StartGui(ctx, opts); err != nil {
		return err
	}
	if err := ops.OpenPort(ctx, 80); err != nil {
		return err
	}
	return ops.OpenPort(ctx, 443)
}

// AgentMixin manages the legacy Juju API agent.
type AgentMixin struct{}

func (AgentMixin) Name() string { return "agent" }

func (AgentMixin) Install(ctx context.Context, b *Backend) error {
	if !b.Different("staging", "juju-api-branch") {
		return nil
	}
	branch, err := b.GetString("juju-api-branch")
	if err != nil {
		return err
	}
	return b.Ops().FetchApi(ctx, branch)
}

func (AgentMixin) Start(ctx context.Context, b *Backend) error {
	certPath, err := b.GetString("ssl-cert-path")
	if err != nil {
		return err
	}
	return b.Ops().StartAgent(ctx, certPath)
}

func (AgentMixin) Stop(ctx context.Context, b *Backend) error {
	return b.Ops().ServiceControl(ctx, ServiceAgent, ActionStop)
}

// ImprovMixin manages the simulated staging environment.
type ImprovMixin struct{}

func (ImprovMixin) Name() string { return "improv" }

func (ImprovMixin) Debs() []string { return []string{"zookeeper"} }

func (ImprovMixin) Install(ctx context.Context, b *Backend) error {
	if !b.Different("staging", "juju-api-branch") {
		return nil
	}
	branch, err := b.GetString("juju-api-branch")
	if err != nil {
		return err
	}
	return b.Ops().FetchApi(ctx, branch)
}

func (ImprovMixin) Start(ctx context.Context, b *Backend) error {
	stagingEnv, err := b.GetString("staging-environment")
	if err != nil {
		return err
	}
	certPath, err := b.GetString("ssl-cert-path")
	if err != nil {
		return err
	}
	return b.Ops().StartImprov(ctx, stagingEnv, certPath)
}

func (ImprovMixin) Stop(ctx context.Context, b *Backend) error {
	return b.Ops().ServiceControl(ctx, ServiceImprov, ActionStop)
}

// SandboxMixin runs the GUI against the in-browser simulated environment.
// No API service is managed.
type SandboxMixin struct{}

func (SandboxMixin) Name() string { return "sandbox" }

// GoMixin is the element for the Go API implementation. The API server is
// managed by the machine agent, so only extra dependencies are contributed.
type GoMixin struct{}

func (GoMixin) Name() string { return "go" }

func (GoMixin) Debs() []string { return []string{"python-yaml"} }
