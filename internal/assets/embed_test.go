package assets

import (
	"bytes"
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestStylesheet(t *testing.T) {
	css, err := Stylesheet()
	if err != nil {
		t.Fatalf("Stylesheet: %v", err)
	}
	if !strings.Contains(css, "main {") {
		t.Errorf("stylesheet missing main rule: %q", css)
	}
}

func TestRenderTranscript(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTranscript(&buf, Page{
		Title:    "Room <transcript>",
		Body:     template.HTML("<h1>Room transcript</h1>"),
		Exported: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderTranscript: %v", err)
	}
	out := buf.String()

	tests := []struct {
		name string
		want string
	}{
		{"doctype", "<!DOCTYPE html>"},
		{"escaped title", "<title>Room &lt;transcript&gt;</title>"},
		{"raw body", "<h1>Room transcript</h1>"},
		{"inlined css", "max-width: 46rem"},
		{"export time", "Exported Sun, 01 Mar 2026 12:00:00 UTC"},
	}
	for _, tt := range tests {
		if !strings.Contains(out, tt.want) {
			t.Errorf("%s: output missing %q", tt.name, tt.want)
		}
	}
}

func TestRenderTranscript_DefaultsExportTime(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderTranscript(&buf, Page{Title: "t"}); err != nil {
		t.Fatalf("RenderTranscript: %v", err)
	}
	if strings.Contains(buf.String(), "0001") {
		t.Errorf("zero export time leaked into output")
	}
}
