// Package assets embeds the static files used by the transcript export:
// the HTML page template and its stylesheet.
package assets

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"time"
)

//go:embed web
var webFS embed.FS

const (
	transcriptTemplate = "web/transcript.html.tmpl"
	transcriptCSS      = "web/transcript.css"
)

var transcriptPage = template.Must(template.ParseFS(webFS, transcriptTemplate))

// Page is the data rendered into the transcript export.
type Page struct {
	Title    string
	Body     template.HTML // already rendered HTML, inserted unescaped
	Exported time.Time
}

// Stylesheet returns the embedded transcript stylesheet.
func Stylesheet() (string, error) {
	data, err := fs.ReadFile(webFS, transcriptCSS)
	if err != nil {
		return "", fmt.Errorf("reading stylesheet: %w", err)
	}
	return string(data), nil
}

// RenderTranscript writes page as a standalone HTML document with the
// stylesheet inlined.
func RenderTranscript(w io.Writer, page Page) error {
	css, err := Stylesheet()
	if err != nil {
		return err
	}
	if page.Exported.IsZero() {
		page.Exported = time.Now()
	}
	return transcriptPage.Execute(w, struct {
		Page
		Stylesheet template.CSS
		Exported   string
	}{
		Page:       page,
		Stylesheet: template.CSS(css),
		Exported:   page.Exported.UTC().Format(time.RFC1123),
	})
}
