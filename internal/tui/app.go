package tui

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/web"
	"github.com/vitaminmoo/pressuremon/internal/pairing"
)

// ChooserHost accepts the interactive device chooser.
type ChooserHost interface {
	SetChooser(web.Chooser)
}

// Run starts the pairing screen. When host is non-nil, its device chooser
// is replaced by an interactive list for the lifetime of the program.
func Run(ctx context.Context, ctrl *pairing.Controller, opts ble.PairingOptions, host ChooserHost, scanWindow time.Duration) error {
	m := NewModel(ctrl, opts, scanWindow)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := ctrl.Subscribe(func(s pairing.State) {
		p.Send(stateMsg(s))
	})
	defer unsubscribe()

	if host != nil {
		host.SetChooser(Chooser(p))
		defer host.SetChooser(nil)
	}

	ctrl.Mount(ctx)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return err
	}
	return nil
}

// Chooser returns a web.Chooser that asks the user through p.
func Chooser(p *tea.Program) web.Chooser {
	return func(ctx context.Context, candidates []web.Candidate) (web.Candidate, error) {
		if len(candidates) == 0 {
			return web.Candidate{}, web.ErrNoDevices
		}
		reply := make(chan chooserResult, 1)
		p.Send(chooserMsg{candidates: candidates, reply: reply})
		select {
		case r := <-reply:
			return r.candidate, r.err
		case <-ctx.Done():
			return web.Candidate{}, fmt.Errorf("%w: %w", ble.ErrUserCancelled, ctx.Err())
		}
	}
}
