package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/web"
	"github.com/vitaminmoo/pressuremon/internal/pairing"
)

// Pairer is the part of the pairing controller the screen drives.
type Pairer interface {
	State() pairing.State
	StartPairing(ctx context.Context, opts *ble.PairingOptions)
	Disconnect()
	ClearError()
	RefreshAvailability(ctx context.Context) bool
}

// Model is the Bubbletea model for the device pairing screen.
type Model struct {
	ctrl  Pairer
	opts  ble.PairingOptions
	state pairing.State

	// cancel aborts the in-flight pairing attempt.
	cancel context.CancelFunc

	// Chooser overlay, active while the host waits for a selection.
	chooser      list.Model
	chooserReply chan<- chooserResult
	choosing     bool

	scan   ScanProgress
	width  int
	height int

	// Components
	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// --- Custom messages for async operations ---

// stateMsg delivers a controller state snapshot.
type stateMsg pairing.State

// pairDoneMsg signals that a pairing attempt has settled.
type pairDoneMsg struct{}

// availabilityMsg delivers a radio probe result.
type availabilityMsg bool

// chooserMsg asks the user to pick one of the scanned devices.
type chooserMsg struct {
	candidates []web.Candidate
	reply      chan<- chooserResult
}

type chooserResult struct {
	candidate web.Candidate
	err       error
}

// NewModel creates the pairing screen for ctrl. scanWindow sizes the scan
// progress bar.
func NewModel(ctrl Pairer, opts ble.PairingOptions, scanWindow time.Duration) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return Model{
		ctrl:    ctrl,
		opts:    opts,
		state:   ctrl.State(),
		scan:    NewScanProgress(scanWindow),
		keys:    DefaultKeyMap(),
		help:    h,
		spinner: s,
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model. Controller calls always run inside commands:
// state listeners block on the program's message loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.choosing {
		if msg, ok := msg.(tea.KeyMsg); ok {
			return m.handleChooserKey(msg)
		}
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if m.choosing {
			m.chooser.SetSize(msg.Width-4, chooserHeight(msg.Height))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		return m.applyState(pairing.State(msg))

	case pairDoneMsg:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		return m, nil

	case availabilityMsg:
		return m, nil

	case chooserMsg:
		return m.openChooser(msg), nil

	case scanTickMsg:
		if !m.scan.IsActive() {
			return m, nil
		}
		m.scan.Update(time.Time(msg))
		return m, scanTickCmd()
	}

	return m, nil
}

// applyState adopts a new controller snapshot.
func (m Model) applyState(s pairing.State) (tea.Model, tea.Cmd) {
	prev := m.state.Status
	m.state = s

	if s.Status != pairing.Scanning {
		m.scan.Stop()
		if m.choosing {
			m = m.closeChooser(web.Candidate{}, ble.ErrUserCancelled)
		}
		return m, nil
	}
	if prev != pairing.Scanning {
		m.scan.Start(time.Now())
		return m, scanTickCmd()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Back):
		if m.state.Status.Busy() && m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		return m, nil

	case key.Matches(msg, m.keys.Pair):
		return m.startPairing()

	case key.Matches(msg, m.keys.Select):
		switch m.state.Status {
		case pairing.Idle:
			return m.startPairing()
		case pairing.Error:
			return m.retry()
		case pairing.Unavailable:
			return m, m.acknowledgeCmd()
		}
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		if m.state.Status != pairing.Connected || m.state.Device == nil {
			return m, nil
		}
		return m, m.disconnectCmd()

	case key.Matches(msg, m.keys.Refresh):
		if m.state.Status.Busy() {
			return m, nil
		}
		return m, m.refreshCmd()
	}

	return m, nil
}

// canPair reports whether Start Pairing is enabled.
func (m Model) canPair() bool {
	if m.state.Status != pairing.Idle || m.cancel != nil {
		return false
	}
	return m.state.Available == nil || *m.state.Available
}

func (m Model) startPairing() (tea.Model, tea.Cmd) {
	if !m.canPair() {
		return m, nil
	}
	return m.launch(false)
}

// retry clears the error and starts a fresh attempt.
func (m Model) retry() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		return m, nil
	}
	return m.launch(true)
}

func (m Model) launch(clearFirst bool) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ctrl := m.ctrl
	opts := m.opts
	return m, func() tea.Msg {
		if clearFirst {
			ctrl.ClearError()
		}
		ctrl.StartPairing(ctx, &opts)
		return pairDoneMsg{}
	}
}

// acknowledgeCmd dismisses the unavailable message and probes again.
func (m Model) acknowledgeCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.ClearError()
		return availabilityMsg(ctrl.RefreshAvailability(context.Background()))
	}
}

func (m Model) disconnectCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Disconnect()
		return nil
	}
}

func (m Model) refreshCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return availabilityMsg(ctrl.RefreshAvailability(context.Background()))
	}
}

// --- Device chooser ---

func chooserHeight(termHeight int) int {
	if termHeight <= 0 {
		return 12
	}
	return max(6, termHeight-8)
}

func (m Model) openChooser(msg chooserMsg) Model {
	if m.choosing {
		m = m.closeChooser(web.Candidate{}, ble.ErrUserCancelled)
	}
	items := make([]list.Item, len(msg.candidates))
	for i, c := range msg.candidates {
		items[i] = c
	}
	width := m.width - 4
	if width <= 0 {
		width = 60
	}
	l := list.New(items, list.NewDefaultDelegate(), width, chooserHeight(m.height))
	l.Title = "Choose your device"
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	m.chooser = l
	m.chooserReply = msg.reply
	m.choosing = true
	return m
}

func (m Model) closeChooser(c web.Candidate, err error) Model {
	if m.chooserReply != nil {
		m.chooserReply <- chooserResult{candidate: c, err: err}
	}
	m.chooserReply = nil
	m.choosing = false
	return m
}

func (m Model) handleChooserKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	filtering := m.chooser.FilterState() == list.Filtering

	switch {
	case msg.Type == tea.KeyCtrlC:
		m = m.closeChooser(web.Candidate{}, ble.ErrUserCancelled)
		return m.handleKey(msg)

	case !filtering && key.Matches(msg, m.keys.Back):
		return m.closeChooser(web.Candidate{}, ble.ErrUserCancelled), nil

	case !filtering && msg.Type == tea.KeyEnter:
		c, ok := m.chooser.SelectedItem().(web.Candidate)
		if !ok {
			return m, nil
		}
		return m.closeChooser(c, nil), nil
	}

	var cmd tea.Cmd
	m.chooser, cmd = m.chooser.Update(msg)
	return m, cmd
}

// --- Views ---

// View implements tea.Model.
func (m Model) View() string {
	if m.choosing {
		content := m.chooser.View() + "\n" +
			m.styles.Muted.Render("↑/↓ navigate • / filter • enter pair • esc cancel")
		return m.styles.App.Render(content)
	}

	var b strings.Builder
	b.WriteString(m.renderTitleBar("SoleSense"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Highlight.Render(m.headline()))
	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render(m.description()))
	b.WriteString("\n")

	if m.state.Status == pairing.Error && m.state.Err != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Error.Render(m.state.Err))
		b.WriteString("\n")
	}

	if m.scan.IsActive() {
		b.WriteString("\n")
		b.WriteString(m.scan.View())
		b.WriteString("\n")
	}

	if card := m.renderDevice(); card != "" {
		b.WriteString("\n")
		b.WriteString(card)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderAction())

	helpView := m.styles.Help.Render(m.help.View(m.keys))
	return m.styles.App.Render(b.String() + "\n" + helpView)
}

func (m Model) headline() string {
	switch m.state.Status {
	case pairing.Scanning:
		return "Scanning..."
	case pairing.Connecting:
		return "Connecting..."
	case pairing.Connected:
		return "Connected!"
	case pairing.Error, pairing.Unavailable:
		return "Connection issue"
	default:
		return "Pair Your Device"
	}
}

func (m Model) description() string {
	switch m.state.Status {
	case pairing.Scanning:
		return "Choose your device from the list (your system is scanning for BLE devices)."
	case pairing.Connecting:
		return "Establishing secure connection..."
	case pairing.Connected:
		return "Your SoleSense Pro is ready to use."
	case pairing.Unavailable:
		if m.state.Err != "" {
			return m.state.Err
		}
		return pairing.UnavailableMessage
	case pairing.Error:
		return "Something went wrong."
	default:
		return "Place your SoleSense slipper nearby and ensure Bluetooth is enabled. Then start pairing."
	}
}

// renderTitleBar renders the title with the connection status.
func (m Model) renderTitleBar(title string) string {
	parts := []string{m.styles.Title.Render(title)}

	switch m.state.Status {
	case pairing.Scanning:
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render("Scanning..."))
	case pairing.Connecting:
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render("Connecting..."))
	case pairing.Connected:
		parts = append(parts, m.styles.StatusOnline.Render("● Connected"))
	default:
		parts = append(parts, m.styles.StatusOffline.Render("○ Offline"))
	}

	switch {
	case !m.state.AvailabilityKnown():
		parts = append(parts, m.styles.Muted.Render("Bluetooth: checking"))
	case m.state.IsAvailable():
		parts = append(parts, m.styles.Muted.Render("Bluetooth: on"))
	default:
		parts = append(parts, m.styles.Warning.Render("Bluetooth: off"))
	}

	return strings.Join(parts, "  ")
}

// renderDevice shows the held device while connecting or connected.
func (m Model) renderDevice() string {
	d := m.state.Device
	if d == nil {
		return ""
	}
	if m.state.Status != pairing.Connecting && m.state.Status != pairing.Connected {
		return ""
	}
	id := d.DeviceID()
	if id == "" {
		id = "BLE device"
	}
	line := m.styles.Label.Render(d.DeviceName()) + m.styles.Muted.Render(id)
	if m.state.Status == pairing.Connected {
		line += "  " + m.styles.Success.Render("Paired")
	}
	return line
}

// renderAction shows the primary action for the current state.
func (m Model) renderAction() string {
	switch m.state.Status {
	case pairing.Idle:
		pairKey := m.keys.Pair.Help().Key
		if m.state.Available != nil && !*m.state.Available {
			return m.styles.MenuItemDim.Render(fmt.Sprintf("[%s] Start Pairing", pairKey)) + "\n" +
				m.styles.Muted.Render("Bluetooth is not available. Turn on the adapter and press 'r' to check again.")
		}
		return m.styles.MenuItemSelected.Render(fmt.Sprintf("[%s] Start Pairing", pairKey))
	case pairing.Scanning, pairing.Connecting:
		return m.styles.Muted.Render("esc to cancel")
	case pairing.Connected:
		return m.styles.MenuItem.Render(fmt.Sprintf("[%s] Disconnect", m.keys.Disconnect.Help().Key))
	case pairing.Error:
		return m.styles.MenuItemSelected.Render("[enter] Try again")
	case pairing.Unavailable:
		return m.styles.MenuItemSelected.Render("[enter] OK")
	}
	return ""
}
