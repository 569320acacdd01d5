package charm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/hookenv"
)

type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func testOps(t *testing.T) *Ops {
	t.Helper()
	env := hookenv.NewWithRunner(nopRunner{}, zerolog.Nop())
	return NewOperations(env, t.TempDir(), nil)
}

func TestZookeeperAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")
	content := "description \"juju machine agent\"\nenv JUJU_ZOOKEEPER=\"10.0.3.1:2181\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	addr, err := ZookeeperAddress(path)
	if err != nil {
		t.Fatalf("zookeeper address: %v", err)
	}
	if addr != "10.0.3.1:2181" {
		t.Errorf("address = %q, want %q", addr, "10.0.3.1:2181")
	}
}

func TestZookeeperAddressMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")
	if err := os.WriteFile(path, []byte("no zookeeper here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ZookeeperAddress(path); err == nil {
		t.Fatal("expected error for a file without JUJU_ZOOKEEPER")
	}
}

func TestRenderConfigJS(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "config.js")
	err := RenderToFile("config.js.tmpl", map[string]any{
		"ConsoleEnabled": true,
		"LoginHelp":      "help",
		"ReadOnly":       false,
		"User":           "admin",
		"Password":       "admin",
		"ApiBackend":     "go",
		"Protocol":       "wss",
		"Address":        "gui.example.com",
		"CharmworldURL":  "https://charmworld.example.com",
		"Sandbox":        false,
	}, dest)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		"consoleEnabled: true",
		`socket_url: 'wss://gui.example.com:443/ws'`,
		`apiBackend: "go"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config.js missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHaproxyInsecure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "haproxy.cfg")
	err := RenderToFile("haproxy.cfg.tmpl", map[string]any{
		"ApiPort":     APIPort,
		"WebPort":     WebPort,
		"SSLCertPath": "/etc/ssl/juju-gui",
		"Pem":         PemName,
		"Secure":      false,
	}, dest)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if strings.Contains(string(data), "ssl crt") {
		t.Error("insecure haproxy config should not bind TLS")
	}
}

func TestSaveCertificatesWithProvidedContents(t *testing.T) {
	ops := testOps(t)
	certPath := filepath.Join(t.TempDir(), "ssl")
	err := ops.SaveOrCreateCertificates(context.Background(), certPath, "CERT", "KEY")
	if err != nil {
		t.Fatalf("save certificates: %v", err)
	}
	pem, err := os.ReadFile(filepath.Join(certPath, PemName))
	if err != nil {
		t.Fatalf("read combined pem: %v", err)
	}
	if string(pem) != "KEYCERT" {
		t.Errorf("combined pem = %q, want key followed by cert", pem)
	}
}

func TestFirstPathInDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := firstPathInDir(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if err := os.WriteFile(filepath.Join(dir, "release.tgz"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := firstPathInDir(dir)
	if err != nil {
		t.Fatalf("first path: %v", err)
	}
	if got != filepath.Join(dir, "release.tgz") {
		t.Errorf("path = %q", got)
	}
}
