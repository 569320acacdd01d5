// Package charm implements the system-level operations the backend
// composition drives: deb package management, service control, SSL
// certificate handling, release retrieval and the configuration files of the
// services fronting the GUI.
package charm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tiger66639/juju-gui-charm/internal/backend"
	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
	"github.com/Tiger66639/juju-gui-charm/internal/releases"
)

const (
	// APIPort is the port the local Juju API service listens on.
	APIPort = 8080
	// WebPort is the port the static GUI site is served on.
	WebPort = 8000

	// PemName is the combined key+certificate file used by haproxy.
	PemName = "juju.includes-private-key.pem"

	apachePath     = "/etc/apache2/sites-available/juju-gui.conf"
	haproxyPath    = "/etc/haproxy/haproxy.cfg"
	systemdUnitDir = "/etc/systemd/system"
)

// Ops is the production implementation of backend.Operations. All external
// commands go through the hook environment so their combined output can be
// captured and logged.
type Ops struct {
	Env     *hookenv.Env
	BaseDir string
	Store   *releases.Store

	// CommandLog is the file command output is appended to. Set from the
	// "command-log-file" configuration option once it is known.
	CommandLog string
}

// NewOperations returns an Ops rooted at baseDir (the charm directory).
// store may be nil when no release store is configured; fetching a stable or
// trunk release then fails with an explicit error.
func NewOperations(env *hookenv.Env, baseDir string, store *releases.Store) *Ops {
	return &Ops{Env: env, BaseDir: baseDir, Store: store}
}

// SetCommandLog records the path command output is appended to.
func (o *Ops) SetCommandLog(path string) { o.CommandLog = path }

func (o *Ops) jujuDir() string   { return filepath.Join(o.BaseDir, "juju") }
func (o *Ops) guiDir() string    { return filepath.Join(o.BaseDir, "juju-gui") }
func (o *Ops) configDir() string { return filepath.Join(o.BaseDir, "config") }

// Log sends a message to the framework log.
func (o *Ops) Log(msg string) { o.Env.Log(msg) }

// run executes a command and appends its combined output to the command log.
func (o *Ops) run(ctx context.Context, name string, args ...string) error {
	out, err := o.run0(ctx, name, args...)
	o.logCommand(out)
	return err
}

func (o *Ops) run0(ctx context.Context, name string, args ...string) ([]byte, error) {
	return o.Env.Run(ctx, name, args...)
}

func (o *Ops) logCommand(out []byte) {
	if o.CommandLog == "" || len(out) == 0 {
		return
	}
	f, err := os.OpenFile(o.CommandLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	// Command output may be multi-line; start it on its own line.
	fmt.Fprintf(f, "%s:\n%s\n", time.Now().Format(time.RFC3339), out)
}

// LegacyJuju reports whether the unit runs the legacy Python implementation,
// detected from the presence of the machine agent startup file referencing
// ZooKeeper.
func (o *Ops) LegacyJuju() bool {
	_, err := os.Stat(o.agentStartupFile())
	return err == nil
}

// agentStartupFile returns the startup file of this unit's machine agent.
func (o *Ops) agentStartupFile() string {
	unitDir, err := filepath.EvalSymlinks(filepath.Join(o.BaseDir, ".."))
	if err != nil {
		unitDir = filepath.Join(o.BaseDir, "..")
	}
	return filepath.Join("/etc/init", "juju-"+filepath.Base(unitDir)+".conf")
}

// CheckPackages returns the subset of pkgs not currently installed.
func (o *Ops) CheckPackages(ctx context.Context, pkgs ...string) ([]string, error) {
	var missing []string
	for _, pkg := range pkgs {
		out, err := o.run0(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
		if err != nil || !strings.Contains(string(out), "install ok installed") {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}

// InstallPackages installs the given deb packages.
func (o *Ops) InstallPackages(ctx context.Context, pkgs ...string) error {
	if len(pkgs) == 0 {
		return nil
	}
	args := append([]string{"install", "-y"}, pkgs...)
	return o.run(ctx, "apt-get", args...)
}

// InstallRepositories adds the given extra repositories and refreshes the
// package index.
func (o *Ops) InstallRepositories(ctx context.Context, repos ...string) error {
	for _, repo := range repos {
		if err := o.run(ctx, "add-apt-repository", "-y", repo); err != nil {
			return err
		}
	}
	return o.AptUpdate(ctx)
}

// AptUpdate refreshes the package index.
func (o *Ops) AptUpdate(ctx context.Context) error {
	return o.run(ctx, "apt-get", "update")
}

// ServiceControl drives a system service through systemd.
func (o *Ops) ServiceControl(ctx context.Context, service, action string) error {
	return o.run(ctx, "systemctl", action, service)
}

// InstallStartupScripts copies the named startup units from the charm config
// directory into the systemd unit directory.
func (o *Ops) InstallStartupScripts(ctx context.Context, names ...string) error {
	for _, name := range names {
		unit := name + ".service"
		src := filepath.Join(o.configDir(), unit)
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read startup script %s: %w", src, err)
		}
		dest := filepath.Join(systemdUnitDir, unit)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("install startup script %s: %w", dest, err)
		}
	}
	return o.run(ctx, "systemctl", "daemon-reload")
}

// OpenPort exposes a port on the unit.
func (o *Ops) OpenPort(ctx context.Context, port int) error {
	return o.Env.OpenPort(ctx, port)
}

// FetchRelease retrieves a GUI release and returns the local tarball path.
// Stable and trunk releases come from the release store; branch sources are
// checked out and built locally.
func (o *Ops) FetchRelease(ctx context.Context, source, logPath string) (string, error) {
	if logPath != "" {
		o.CommandLog = logPath
	}
	origin, value := ParseSource(source)
	if origin == OriginBranch {
		return o.buildFromBranch(ctx, value)
	}
	if o.Store == nil {
		return "", fmt.Errorf("no release store configured, unable to fetch %q", source)
	}
	o.Log("Retrieving Juju GUI release.")
	release, err := o.Store.Find(ctx, origin, value)
	if err != nil {
		return "", err
	}
	o.Log(fmt.Sprintf("Downloading release file %s.", release.Key))
	tarball := filepath.Join(o.BaseDir, "release.tgz")
	if err := o.Store.Download(ctx, release.Key, tarball); err != nil {
		return "", err
	}
	return tarball, nil
}

// buildFromBranch checks out the given branch and builds a release archive.
func (o *Ops) buildFromBranch(ctx context.Context, branch string) (string, error) {
	o.Log(fmt.Sprintf("Retrieving Juju GUI source checkout from %s.", branch))
	sourceDir := filepath.Join(o.BaseDir, "juju-gui-source")
	if err := os.RemoveAll(sourceDir); err != nil {
		return "", err
	}
	if err := o.run(ctx, "git", "clone", "--depth", "1", branch, sourceDir); err != nil {
		return "", err
	}
	o.Log("Preparing a Juju GUI release.")
	if err := o.run(ctx, "make", "-C", sourceDir, "distfile"); err != nil {
		return "", err
	}
	return firstPathInDir(filepath.Join(sourceDir, "releases"))
}

// FetchApi retrieves the legacy Juju API source checkout.
func (o *Ops) FetchApi(ctx context.Context, branch string) error {
	o.Log("Retrieving Juju API source checkout.")
	if err := os.RemoveAll(o.jujuDir()); err != nil {
		return err
	}
	return o.run(ctx, "git", "clone", "--depth", "1", branch, o.jujuDir())
}

// SetupRelease uncompresses the release tarball and links the GUI directory
// to its contents.
func (o *Ops) SetupRelease(ctx context.Context, tarball string) error {
	o.Log("Installing Juju GUI.")
	releaseDir := filepath.Join(o.BaseDir, "release")
	if err := os.RemoveAll(releaseDir); err != nil {
		return err
	}
	if err := os.MkdirAll(releaseDir, 0o755); err != nil {
		return err
	}
	if err := o.run(ctx, "tar", "-x", "-z", "-C", releaseDir, "-f", tarball); err != nil {
		return err
	}
	content, err := firstPathInDir(releaseDir)
	if err != nil {
		return err
	}
	_ = os.Remove(o.guiDir())
	return os.Symlink(content, o.guiDir())
}

// SetupApache prepares apache for serving the GUI site.
func (o *Ops) SetupApache(ctx context.Context) error {
	o.Log("Setting up apache.")
	if err := o.run(ctx, "a2dissite", "000-default"); err != nil {
		return err
	}
	if _, err := os.Stat(apachePath); os.IsNotExist(err) {
		if err := os.WriteFile(apachePath, nil, 0o644); err != nil {
			return err
		}
	}
	for _, mod := range []string{"headers", "rewrite"} {
		if err := o.run(ctx, "a2enmod", mod); err != nil {
			return err
		}
	}
	return o.run(ctx, "a2ensite", "juju-gui")
}

// SaveOrCreateCertificates stores the provided SSL material under certPath,
// generating a self-signed certificate when none is provided. The combined
// pem used by haproxy is written alongside.
func (o *Ops) SaveOrCreateCertificates(ctx context.Context, certPath, certContents, keyContents string) error {
	if err := os.MkdirAll(certPath, 0o755); err != nil {
		return err
	}
	crt := filepath.Join(certPath, "juju.crt")
	key := filepath.Join(certPath, "juju.key")
	if certContents != "" && keyContents != "" {
		o.Log("Saving the provided certificates.")
		if err := os.WriteFile(crt, []byte(certContents), 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(key, []byte(keyContents), 0o600); err != nil {
			return err
		}
	} else {
		o.Log("Generating a self-signed certificate.")
		err := o.run(ctx, "openssl", "req", "-new", "-newkey", "rsa:4096",
			"-days", "365", "-nodes", "-x509", "-subj", "/C=GB/ST=Juju/L=GUI/O=JujuGUI",
			"-keyout", key, "-out", crt)
		if err != nil {
			return err
		}
	}
	return writeCombinedPem(crt, key, filepath.Join(certPath, PemName))
}

// StartGui generates the configuration files consumed by the GUI, apache and
// haproxy.
func (o *Ops) StartGui(ctx context.Context, opts backend.GuiOptions) error {
	buildDirname := "build-prod"
	if opts.Staging && !opts.ServeTests {
		buildDirname = "build-debug"
	}
	buildDir := filepath.Join(o.guiDir(), buildDirname)

	address, err := o.Env.UnitGet(ctx, "public-address")
	if err != nil {
		return err
	}
	protocol := "wss"
	if !opts.Secure {
		o.Log("Running in insecure mode! Port 80 will serve unencrypted.")
		protocol = "ws"
	}
	user, password := "", ""
	if opts.Staging {
		user, password = "admin", "admin"
	}
	apiBackend := "go"
	if o.LegacyJuju() {
		apiBackend = "python"
	}

	o.Log("Generating the Juju GUI configuration file.")
	configJS := filepath.Join(buildDir, "juju-ui", "assets", "config.js")
	err = RenderToFile("config.js.tmpl", map[string]any{
		"ConsoleEnabled": opts.ConsoleEnabled,
		"LoginHelp":      opts.LoginHelp,
		"ReadOnly":       opts.ReadOnly,
		"User":           user,
		"Password":       password,
		"ApiBackend":     apiBackend,
		"Protocol":       protocol,
		"Address":        address,
		"CharmworldURL":  opts.CharmworldURL,
		"Sandbox":        opts.Sandbox,
	}, configJS)
	if err != nil {
		return err
	}

	o.Log("Generating the apache site configuration file.")
	err = RenderToFile("apache-site.tmpl", map[string]any{
		"Port":       WebPort,
		"ServerRoot": buildDir,
		"ServeTests": opts.ServeTests,
		"TestsRoot":  filepath.Join(o.guiDir(), "test"),
	}, apachePath)
	if err != nil {
		return err
	}

	o.Log("Generating the haproxy configuration file.")
	return RenderToFile("haproxy.cfg.tmpl", map[string]any{
		"ApiPort":     APIPort,
		"WebPort":     WebPort,
		"SSLCertPath": opts.SSLCertPath,
		"Pem":         PemName,
		"Secure":      opts.Secure,
	}, haproxyPath)
}

// StartAgent starts the legacy Juju API agent connected to the current
// environment.
func (o *Ops) StartAgent(ctx context.Context, certPath string) error {
	zookeeper, err := ZookeeperAddress(o.agentStartupFile())
	if err != nil {
		return err
	}
	o.Log("Setting up the API agent startup script.")
	unit := filepath.Join(systemdUnitDir, backend.ServiceAgent+".service")
	err = RenderToFile("agent.service.tmpl", map[string]any{
		"JujuDir":   o.jujuDir(),
		"Port":      APIPort,
		"Zookeeper": zookeeper,
		"Keys":      certPath,
	}, unit)
	if err != nil {
		return err
	}
	o.Log("Starting the API agent.")
	if err := o.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	return o.ServiceControl(ctx, backend.ServiceAgent, backend.ActionStart)
}

// StartImprov starts the simulated staging environment.
func (o *Ops) StartImprov(ctx context.Context, stagingEnv, certPath string) error {
	o.Log("Setting up the staging startup script.")
	unit := filepath.Join(systemdUnitDir, backend.ServiceImprov+".service")
	err := RenderToFile("improv.service.tmpl", map[string]any{
		"JujuDir":    o.jujuDir(),
		"Port":       APIPort,
		"StagingEnv": stagingEnv,
		"Keys":       certPath,
	}, unit)
	if err != nil {
		return err
	}
	o.Log("Starting the staging backend.")
	if err := o.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	return o.ServiceControl(ctx, backend.ServiceImprov, backend.ActionStart)
}

// ZookeeperAddress extracts the ZooKeeper address from the given machine
// agent startup file. The file contains a line like:
//
//	env JUJU_ZOOKEEPER="address:port"
func ZookeeperAddress(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read agent file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "JUJU_ZOOKEEPER") {
			continue
		}
		_, value, found := strings.Cut(line, "=")
		if !found {
			break
		}
		return strings.Trim(strings.TrimSpace(value), `"`), nil
	}
	return "", fmt.Errorf("JUJU_ZOOKEEPER not found in %s", path)
}

// firstPathInDir returns the full path of the first entry in directory.
func firstPathInDir(directory string) (string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%s: directory is empty", directory)
	}
	return filepath.Join(directory, entries[0].Name()), nil
}

func writeCombinedPem(crt, key, dest string) error {
	keyData, err := os.ReadFile(key)
	if err != nil {
		return err
	}
	crtData, err := os.ReadFile(crt)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, append(keyData, crtData...), 0o600)
}
