package bundles

import (
	"strings"
	"testing"
)

const wordpressBundle = `
bundle:
  services:
    wordpress:
      charm: cs:precise/wordpress-15
      num_units: 1
    mysql:
      charm: cs:precise/mysql-26
      num_units: 2
  relations:
    - - wordpress:db
      - mysql:db
`

func TestParseBundleSingle(t *testing.T) {
	bundle, err := ParseBundle(wordpressBundle, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bundle.Name != "bundle" {
		t.Errorf("name = %q", bundle.Name)
	}
	if len(bundle.Services) != 2 {
		t.Errorf("services = %v", bundle.Services)
	}
	if _, ok := bundle.Services["wordpress"]; !ok {
		t.Error("wordpress service missing")
	}
}

func TestParseBundleByName(t *testing.T) {
	doc := `
first:
  services:
    wordpress:
      charm: cs:precise/wordpress-15
second:
  services:
    mysql:
      charm: cs:precise/mysql-26
`
	bundle, err := ParseBundle(doc, "second")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := bundle.Services["mysql"]; !ok {
		t.Error("mysql service missing")
	}
}

func TestParseBundleMultipleWithoutName(t *testing.T) {
	doc := `
first:
  services:
    a: {charm: cs:a}
second:
  services:
    b: {charm: cs:b}
`
	if _, err := ParseBundle(doc, ""); err == nil {
		t.Fatal("expected error for multiple bundles without a name")
	}
}

func TestParseBundleUnknownName(t *testing.T) {
	_, err := ParseBundle(wordpressBundle, "no-such")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseBundleInvalidYAML(t *testing.T) {
	if _, err := ParseBundle(":\n  - not yaml: [", ""); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseBundleNoServices(t *testing.T) {
	_, err := ParseBundle("bundle:\n  series: precise\n", "")
	if err == nil || !strings.Contains(err.Error(), "services") {
		t.Fatalf("err = %v", err)
	}
}
