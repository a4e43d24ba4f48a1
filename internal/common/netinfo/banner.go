package netinfo

import (
	"fmt"
	"io"
)

// PrintAccessBanner writes the endpoints a client needs: the REST base URL
// and the event stream URL.
func PrintAccessBanner(w io.Writer, a Advertised, serviceName string) {
	addr := fmt.Sprintf("%s:%d", a.Host, a.Port)

	_, _ = fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════════╗")
	_, _ = fmt.Fprintf(w, "║ %-72s ║\n", serviceName)
	_, _ = fmt.Fprintln(w, "╟──────────────────────────────────────────────────────────────────────────╢")
	_, _ = fmt.Fprintf(w, "║ REST:   http://%-57s ║\n", addr+"/v1")
	_, _ = fmt.Fprintf(w, "║ Stream: ws://%-59s ║\n", addr+"/v1/stream")
	_, _ = fmt.Fprintf(w, "║ Source: %-64s ║\n", a.Source)
	for _, note := range a.Notes {
		for _, line := range wrapText(note, 66) {
			_, _ = fmt.Fprintf(w, "║ Note: %-66s ║\n", line)
		}
	}
	_, _ = fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════════╝")
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	for len(text) > width {
		lines = append(lines, text[:width])
		text = text[width:]
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
