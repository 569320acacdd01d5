package releases

import (
	"testing"
	"time"
)

func TestKeyFor(t *testing.T) {
	got := KeyFor("stable", "1.0.1")
	want := "releases/stable/juju-gui-1.0.1.tgz"
	if got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestPickLatest(t *testing.T) {
	now := time.Now()
	available := []Release{
		{Key: "releases/stable/juju-gui-1.0.0.tgz", LastModified: now.Add(-2 * time.Hour)},
		{Key: "releases/stable/juju-gui-1.0.1.tgz", LastModified: now},
		{Key: "releases/stable/checksums.txt", LastModified: now.Add(time.Hour)},
	}
	release, err := Pick(available, "stable", "")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if release.Key != "releases/stable/juju-gui-1.0.1.tgz" {
		t.Errorf("picked %q, want the most recent archive", release.Key)
	}
}

func TestPickExactVersion(t *testing.T) {
	now := time.Now()
	available := []Release{
		{Key: "releases/stable/juju-gui-1.0.0.tgz", LastModified: now.Add(-time.Hour)},
		{Key: "releases/stable/juju-gui-1.0.1.tgz", LastModified: now},
	}
	release, err := Pick(available, "stable", "1.0.0")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if release.Key != "releases/stable/juju-gui-1.0.0.tgz" {
		t.Errorf("picked %q, want the requested version", release.Key)
	}
}

func TestPickVersionNotFound(t *testing.T) {
	available := []Release{
		{Key: "releases/stable/juju-gui-1.0.0.tgz"},
	}
	if _, err := Pick(available, "stable", "9.9.9"); err == nil {
		t.Fatal("expected error for a missing version")
	}
}

func TestPickEmptySeries(t *testing.T) {
	if _, err := Pick(nil, "trunk", ""); err == nil {
		t.Fatal("expected error for a series without releases")
	}
	nonArchives := []Release{{Key: "releases/trunk/README"}}
	if _, err := Pick(nonArchives, "trunk", ""); err == nil {
		t.Fatal("expected error when no .tgz archives exist")
	}
}

func TestNewUnconfigured(t *testing.T) {
	if store := New(Options{}); store != nil {
		t.Fatal("expected nil store without endpoint and bucket")
	}
	if store := New(Options{Endpoint: "https://o.example.com"}); store != nil {
		t.Fatal("expected nil store without bucket")
	}
}
