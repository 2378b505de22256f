package hooks

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andrej220/gsh/pkg/remote"
)

// Printer writes remote output to the local terminal one line at a
// time. Remote stderr goes to the local stderr. With machines set,
// every line is prefixed with the hostname it came from.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	machines bool
}

func NewPrinter(machines bool) *Printer {
	return NewPrinterTo(os.Stdout, os.Stderr, machines)
}

// NewPrinterTo is NewPrinter with explicit sinks, for tests.
func NewPrinterTo(out, errOut io.Writer, machines bool) *Printer {
	return &Printer{out: out, errOut: errOut, machines: machines}
}

func (p *Printer) Notify(host string, stream remote.StreamName, line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.out
	if stream == remote.StreamStderr {
		w = p.errOut
	}
	var err error
	if p.machines {
		_, err = fmt.Fprintf(w, "%s: %s\n", host, line)
	} else {
		_, err = fmt.Fprintf(w, "%s\n", line)
	}
	if err != nil {
		return fmt.Errorf("print %s line: %w", host, err)
	}
	return nil
}
