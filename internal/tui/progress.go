package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ScanProgress shows how much of the scan window has elapsed.
type ScanProgress struct {
	progress progress.Model
	window   time.Duration
	started  time.Time
	percent  float64
	isActive bool
}

// NewScanProgress creates a progress bar for a scan of the given length.
func NewScanProgress(window time.Duration) ScanProgress {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return ScanProgress{progress: p, window: window}
}

// Start begins tracking a scan.
func (p *ScanProgress) Start(now time.Time) {
	p.isActive = true
	p.started = now
	p.percent = 0
}

// Update recomputes the elapsed fraction, capped at 1.
func (p *ScanProgress) Update(now time.Time) {
	if !p.isActive || p.window <= 0 {
		return
	}
	p.percent = min(1, float64(now.Sub(p.started))/float64(p.window))
}

// Stop hides the bar.
func (p *ScanProgress) Stop() {
	p.isActive = false
}

// IsActive returns whether a scan is being tracked.
func (p *ScanProgress) IsActive() bool {
	return p.isActive
}

// Percent returns the elapsed fraction.
func (p *ScanProgress) Percent() float64 {
	return p.percent
}

// View renders the progress bar.
func (p ScanProgress) View() string {
	if !p.isActive {
		return ""
	}
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	return descStyle.Render("Scanning for nearby devices") + "\n" + p.progress.ViewAs(p.percent)
}

// scanTickMsg drives the scan progress bar.
type scanTickMsg time.Time

// scanTickCmd schedules the next progress refresh.
func scanTickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return scanTickMsg(t)
	})
}
