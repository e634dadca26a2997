package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the stepflow banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"      _             __ _               ", "#818cf8"},
		{"  ___| |_ ___ _ __ / _| | _____      __", "#a78bfa"},
		{" / __| __/ _ \\ '_ \\| |_| |/ _ \\ \\ /\\ / /", "#c084fc"},
		{" \\__ \\ ||  __/ |_) |  _| | (_) \\ V  V / ", "#e879f9"},
		{" |___/\\__\\___| .__/|_| |_|\\___/ \\_/\\_/  ", "#f472b6"},
		{"             |_|                        ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
