package charm

import (
	"embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// RenderToFile renders the named embedded template with data into dest.
func RenderToFile(name string, data any, dest string) error {
	tmpl, err := template.ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
