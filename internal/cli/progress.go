package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/pkg/config"
	"github.com/glorpus-work/kpm/pkg/orchestrator"
)

// commandHooks returns progress hooks writing to the command's stderr.
// JSON output gets no progress lines.
func commandHooks(cmd *cobra.Command, cfg *config.Config) orchestrator.Hooks {
	if jsonOutput(cfg) {
		return orchestrator.Hooks{}
	}
	return newProgressHooks(cmd.ErrOrStderr())
}

// progressPrinter renders orchestrator events as short human readable lines.
type progressPrinter struct {
	w  io.Writer
	mu sync.Mutex
}

func newProgressHooks(w io.Writer) orchestrator.Hooks {
	p := &progressPrinter{w: w}
	return orchestrator.Hooks{OnEvent: p.onEvent}
}

func (p *progressPrinter) onEvent(e orchestrator.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Phase {
	case orchestrator.PhaseResolving:
		_, _ = fmt.Fprintf(p.w, "resolving %s@%s\n", e.Package, e.Msg)
	case orchestrator.PhaseDownloading, orchestrator.PhaseExtracting:
		switch {
		case e.Done == 0 && e.Total == 0:
			_, _ = fmt.Fprintf(p.w, "%s %s %s\n", e.Phase, e.Package, e.Version)
		case e.Phase == orchestrator.PhaseDownloading && e.Total > 0 && e.Done == e.Total:
			_, _ = fmt.Fprintf(p.w, "  downloaded %s\n", humanize.Bytes(uint64(e.Total)))
		}
	case orchestrator.PhaseInstalling:
		_, _ = fmt.Fprintf(p.w, "installing %s %s\n", e.Package, e.Version)
	case orchestrator.PhaseUninstall:
		_, _ = fmt.Fprintf(p.w, "uninstalling %s\n", e.Package)
	}
}
