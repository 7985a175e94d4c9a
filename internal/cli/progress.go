package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const barWidth = 30

// progressBar renders a simple terminal progress bar for pulls. On
// non-TTY output (pipes, CI logs) it degrades to occasional percentage
// lines instead of carriage-return animation.
type progressBar struct {
	tty      bool
	lastLine int // last whole pct printed in non-TTY mode
}

func newProgressBar() *progressBar {
	return &progressBar{tty: isatty.IsTerminal(os.Stderr.Fd()), lastLine: -1}
}

func (p *progressBar) render(pct float64) {
	if !p.tty {
		whole := int(pct) / 10 * 10
		if whole > p.lastLine {
			p.lastLine = whole
			fmt.Fprintf(os.Stderr, "%3d%%\n", whole)
		}
		return
	}
	filled := int(pct / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(os.Stderr, "\r[%s] %3.0f%%", bar, pct)
}

func (p *progressBar) done() {
	if p.tty {
		fmt.Fprint(os.Stderr, "\r")
	}
	fmt.Fprintln(os.Stderr, "[done]")
}
