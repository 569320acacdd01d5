// Package bundles schedules and tracks bundle deployments requested over
// the GUI WebSocket connection.
package bundles

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Bundle is one named bundle extracted from a YAML document.
type Bundle struct {
	Name     string
	Services map[string]any
	Content  map[string]any
}

// ParseBundle decodes yamlText and returns the bundle called name. When
// name is empty the document must contain exactly one bundle.
func ParseBundle(yamlText, name string) (*Bundle, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(yamlText), &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML contents: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("invalid YAML contents: no bundles found")
	}
	if name == "" {
		if len(doc) > 1 {
			return nil, fmt.Errorf("multiple bundles found but no bundle name provided")
		}
		for only := range doc {
			name = only
		}
	}
	raw, ok := doc[name]
	if !ok {
		return nil, fmt.Errorf("bundle %q not found in the provided YAML", name)
	}
	content, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bundle %q is not well structured", name)
	}
	bundle := &Bundle{Name: name, Content: content}
	if services, ok := content["services"].(map[string]any); ok {
		bundle.Services = services
	}
	if bundle.Services == nil {
		return nil, fmt.Errorf("bundle %q does not include any services", name)
	}
	if len(bundle.Services) == 0 {
		return nil, fmt.Errorf("bundle %q does not include any services", name)
	}
	return bundle, nil
}
