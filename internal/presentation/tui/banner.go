package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the arbor banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	// Green gradient, trunk to leaves.
	lines := []struct {
		text  string
		color string
	}{
		{`     /\       | |`, "#14532d"},
		{`    /  \   _ __| |__   ___  _ __`, "#166534"},
		{`   / /\ \ | '__| '_ \ / _ \| '__|`, "#15803d"},
		{`  / ____ \| |  | |_) | (_) | |`, "#16a34a"},
		{` /_/    \_\_|  |_.__/ \___/|_|`, "#22c55e"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+version).Faint())
	fmt.Fprintln(w)
}
