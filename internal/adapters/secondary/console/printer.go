package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// Printer writes client console lines to a terminal, colored by category
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	colors map[entities.Category]*color.Color
}

// NewPrinter creates a printer on out. Colors follow fatih/color's terminal
// detection unless noColor is set.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	if out == nil {
		out = os.Stdout
	}

	p := &Printer{
		out: out,
		colors: map[entities.Category]*color.Color{
			entities.CategoryError:   color.New(color.FgRed, color.Bold),
			entities.CategoryWarning: color.New(color.FgYellow),
			entities.CategoryInfo:    color.New(color.FgCyan),
			entities.CategoryVerbose: color.New(color.Faint),
		},
	}

	if noColor {
		for _, c := range p.colors {
			c.DisableColor()
		}
	}
	return p
}

// Print writes one line
func (p *Printer) Print(category entities.Category, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.colors[category]; ok {
		_, _ = c.Fprintln(p.out, line)
		return
	}
	_, _ = fmt.Fprintln(p.out, line)
}

var _ ports.Console = (*Printer)(nil)
