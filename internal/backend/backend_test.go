package backend

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
)

// fakeOps records every operation invoked by the composed mixins.
type fakeOps struct {
	legacy  bool
	missing []string
	calls   []string

	checkErr error
	fetchErr error
	startErr error
}

func (f *fakeOps) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeOps) LegacyJuju() bool { return f.legacy }

func (f *fakeOps) CheckPackages(ctx context.Context, pkgs ...string) ([]string, error) {
	f.record("check-packages %v", pkgs)
	return f.missing, f.checkErr
}

func (f *fakeOps) InstallPackages(ctx context.Context, pkgs ...string) error {
	f.record("install-packages %v", pkgs)
	return nil
}

func (f *fakeOps) InstallRepositories(ctx context.Context, repos ...string) error {
	f.record("install-repositories %v", repos)
	return nil
}

func (f *fakeOps) AptUpdate(ctx context.Context) error {
	f.record("apt-update")
	return nil
}

func (f *fakeOps) ServiceControl(ctx context.Context, service, action string) error {
	f.record("service %s %s", action, service)
	return nil
}

func (f *fakeOps) InstallStartupScripts(ctx context.Context, names ...string) error {
	f.record("startup-scripts %v", names)
	return nil
}

func (f *fakeOps) OpenPort(ctx context.Context, port int) error {
	f.record("open-port %d", port)
	return nil
}

func (f *fakeOps) FetchRelease(ctx context.Context, source, logPath string) (string, error) {
	f.record("fetch-release %s", source)
	return "/tmp/release.tgz", f.fetchErr
}

func (f *fakeOps) FetchApi(ctx context.Context, branch string) error {
	f.record("fetch-api %s", branch)
	return nil
}

func (f *fakeOps) SetupRelease(ctx context.Context, tarball string) error {
	f.record("setup-release %s", tarball)
	return nil
}

func (f *fakeOps) SetupApache(ctx context.Context) error {
	f.record("setup-apache")
	return nil
}

func (f *fakeOps) SaveOrCreateCertificates(ctx context.Context, certPath, certContents, keyContents string) error {
	f.record("certificates %s", certPath)
	return nil
}

func (f *fakeOps) StartGui(ctx context.Context, opts GuiOptions) error {
	f.record("start-gui secure=%v sandbox=%v", opts.Secure, opts.Sandbox)
	return f.startErr
}

func (f *fakeOps) StartAgent(ctx context.Context, certPath string) error {
	f.record("start-agent %s", certPath)
	return nil
}

func (f *fakeOps) StartImprov(ctx context.Context, stagingEnv, certPath string) error {
	f.record("start-improv %s", stagingEnv)
	return nil
}

func (f *fakeOps) Log(msg string) {}

func baseConfig() hookenv.Config {
	return hookenv.Config{
		"juju-gui-source":          "stable",
		"juju-api-branch":          "lp:juju/trunk",
		"command-log-file":         "/var/log/juju/gui.log",
		"ssl-cert-path":            "/etc/ssl/juju-gui",
		"login-help":               "help text",
		"staging-environment":      "sample",
		"juju-gui-console-enabled": false,
		"read-only":                false,
		"serve-tests":              false,
		"secure":                   true,
		"sandbox":                  false,
		"staging":                  false,
		"charmworld-url":           "https://charmworld.example.com",
	}
}

func TestMixinSelectionGoDefault(t *testing.T) {
	b, err := New(baseConfig(), nil, &fakeOps{})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	want := []string{"install", "go", "gui", "upstart"}
	if got := b.MixinNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("mixins = %v, want %v", got, want)
	}
}

func TestMixinSelectionLegacy(t *testing.T) {
	tests := []struct {
		name    string
		staging bool
		sandbox bool
		want    []string
	}{
		{"agent", false, false, []string{"install", "agent", "gui", "upstart"}},
		{"improv", true, false, []string{"install", "improv", "gui", "upstart"}},
		{"sandbox", false, true, []string{"install", "sandbox", "gui", "upstart"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg["staging"] = tt.staging
			cfg["sandbox"] = tt.sandbox
			b, err := New(cfg, nil, &fakeOps{legacy: true})
			if err != nil {
				t.Fatalf("new backend: %v", err)
			}
			if got := b.MixinNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("mixins = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGoBackendRejectsStagingAndSandbox(t *testing.T) {
	for _, key := range []string{"staging", "sandbox"} {
		cfg := baseConfig()
		cfg[key] = true
		if _, err := New(cfg, nil, &fakeOps{}); err == nil {
			t.Errorf("expected error with %s enabled on the go backend", key)
		}
	}
}

func TestDebsMerged(t *testing.T) {
	cfg := baseConfig()
	cfg["staging"] = true
	b, err := New(cfg, nil, &fakeOps{legacy: true})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	want := []string{"zookeeper", "curl", "openssl", "haproxy", "apache2"}
	if got := b.Debs(); !reflect.DeepEqual(got, want) {
		t.Errorf("debs = %v, want %v", got, want)
	}
}

func TestDifferent(t *testing.T) {
	cfg := baseConfig()
	b, err := New(cfg, nil, &fakeOps{})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if !b.Different("juju-gui-source") {
		t.Error("nil previous config should report every key as changed")
	}

	prev := baseConfig()
	b, err = New(cfg, prev, &fakeOps{})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if b.Different("juju-gui-source", "secure") {
		t.Error("identical configs should not differ")
	}

	prev["juju-gui-source"] = "trunk"
	b, err = New(cfg, prev, &fakeOps{})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if !b.Different("secure", "juju-gui-source") {
		t.Error("changed juju-gui-source should be reported")
	}
}

func TestInstallSkipsFetchWhenSourceUnchanged(t *testing.T) {
	ops := &fakeOps{}
	b, err := New(baseConfig(), baseConfig(), ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, call := range ops.calls {
		if call == "fetch-release stable" {
			t.Error("release fetched although juju-gui-source did not change")
		}
	}
}

func TestInstallFetchesOnFirstRun(t *testing.T) {
	ops := &fakeOps{missing: []string{"haproxy"}}
	b, err := New(baseConfig(), nil, ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := []string{
		"check-packages [python-yaml curl openssl haproxy apache2]",
		"install-repositories [ppa:juju-gui/ppa]",
		"install-packages [haproxy]",
		"fetch-release stable",
		"setup-release /tmp/release.tgz",
		"setup-apache",
		"certificates /etc/ssl/juju-gui",
		"startup-scripts [haproxy]",
	}
	if !reflect.DeepEqual(ops.calls, want) {
		t.Errorf("calls = %v, want %v", ops.calls, want)
	}
}

func TestInstallAptUpdateWhenRepositoriesDisallowed(t *testing.T) {
	cfg := baseConfig()
	cfg["allow-additional-deb-repositories"] = false
	ops := &fakeOps{missing: []string{"curl"}}
	b, err := New(cfg, baseConfig(), ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	var sawUpdate, sawRepos bool
	for _, call := range ops.calls {
		switch {
		case call == "apt-update":
			sawUpdate = true
		case call == "install-repositories [ppa:juju-gui/ppa]":
			sawRepos = true
		}
	}
	if !sawUpdate || sawRepos {
		t.Errorf("expected apt-update without repository install, calls: %v", ops.calls)
	}
}

func TestStartSequence(t *testing.T) {
	ops := &fakeOps{}
	b, err := New(baseConfig(), nil, ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	want := []string{
		"start-gui secure=true sandbox=false",
		"open-port 80",
		"open-port 443",
		"service restart apache2",
		"service restart haproxy",
	}
	if !reflect.DeepEqual(ops.calls, want) {
		t.Errorf("calls = %v, want %v", ops.calls, want)
	}
}

func TestStartStopsAtFirstError(t *testing.T) {
	ops := &fakeOps{startErr: errors.New("boom")}
	b, err := New(baseConfig(), nil, ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	for _, call := range ops.calls {
		if call == "service restart apache2" {
			t.Error("later mixins ran after a start failure")
		}
	}
}

func TestStopSequence(t *testing.T) {
	cfg := baseConfig()
	ops := &fakeOps{legacy: true}
	b, err := New(cfg, nil, ops)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{
		"service stop juju-api-agent",
		"service stop haproxy",
		"service stop apache2",
	}
	if !reflect.DeepEqual(ops.calls, want) {
		t.Errorf("calls = %v, want %v", ops.calls, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	b, err := New(hookenv.Config{}, nil, &fakeOps{})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if _, err := b.Get("no-such-key"); err == nil {
		t.Fatal("expected error for missing config key")
	}
}
