package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaminmoo/pressuremon/internal/ble"
	"github.com/vitaminmoo/pressuremon/internal/ble/web"
	"github.com/vitaminmoo/pressuremon/internal/pairing"
)

type fakePairer struct {
	mu    sync.Mutex
	state pairing.State
	calls []string
	opts  *ble.PairingOptions
}

func (f *fakePairer) State() pairing.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePairer) StartPairing(_ context.Context, opts *ble.PairingOptions) {
	f.record("start")
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
}

func (f *fakePairer) Disconnect() { f.record("disconnect") }
func (f *fakePairer) ClearError() { f.record("clear") }
func (f *fakePairer) RefreshAvailability(context.Context) bool {
	f.record("refresh")
	return true
}

func (f *fakePairer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePairer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func runeKey(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func withState(t *testing.T, m Model, s pairing.State) Model {
	t.Helper()
	m, _ = update(t, m, stateMsg(s))
	return m
}

func boolPtr(v bool) *bool { return &v }

func newTestModel(f *fakePairer) Model {
	return NewModel(f, ble.PairingOptions{NamePrefix: "SoleSense"}, 10*time.Second)
}

func TestIdleViewOffersPairing(t *testing.T) {
	m := newTestModel(&fakePairer{})
	view := m.View()
	assert.Contains(t, view, "Pair Your Device")
	assert.Contains(t, view, "Start Pairing")
}

func TestPairKeyStartsAttempt(t *testing.T) {
	f := &fakePairer{}
	m := newTestModel(f)

	m, cmd := update(t, m, runeKey("p"))
	require.NotNil(t, cmd)
	assert.NotNil(t, m.cancel)

	msg := cmd()
	assert.IsType(t, pairDoneMsg{}, msg)
	assert.Equal(t, []string{"start"}, f.Calls())
	require.NotNil(t, f.opts)
	assert.Equal(t, "SoleSense", f.opts.NamePrefix)

	m, _ = update(t, m, msg)
	assert.Nil(t, m.cancel)
}

func TestPairDisabled(t *testing.T) {
	tests := []struct {
		name  string
		state pairing.State
	}{
		{"radio off", pairing.State{Status: pairing.Idle, Available: boolPtr(false)}},
		{"scanning", pairing.State{Status: pairing.Scanning}},
		{"connecting", pairing.State{Status: pairing.Connecting}},
		{"connected", pairing.State{Status: pairing.Connected}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := withState(t, newTestModel(&fakePairer{}), tt.state)
			_, cmd := update(t, m, runeKey("p"))
			assert.Nil(t, cmd)
		})
	}
}

func TestPairWhileAttemptInFlight(t *testing.T) {
	m := newTestModel(&fakePairer{})
	m, cmd := update(t, m, runeKey("p"))
	require.NotNil(t, cmd)
	_, cmd = update(t, m, runeKey("p"))
	assert.Nil(t, cmd)
}

func TestTryAgainClearsThenPairs(t *testing.T) {
	f := &fakePairer{}
	m := withState(t, newTestModel(f), pairing.State{Status: pairing.Error, Err: "GATT Server is disconnected."})
	assert.Contains(t, m.View(), "GATT Server is disconnected.")
	assert.Contains(t, m.View(), "Try again")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"clear", "start"}, f.Calls())
}

func TestUnavailableOKOnlyClears(t *testing.T) {
	f := &fakePairer{}
	m := withState(t, newTestModel(f), pairing.State{Status: pairing.Unavailable, Err: pairing.UnavailableMessage})
	assert.Contains(t, m.View(), "Connection issue")
	assert.Contains(t, m.View(), pairing.UnavailableMessage)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, availabilityMsg(true), cmd())
	assert.Equal(t, []string{"clear", "refresh"}, f.Calls())
}

func TestDeviceCard(t *testing.T) {
	h := ble.NewNativeHandle("AA:BB:CC:DD:EE:FF", "SoleSense Pro")
	m := newTestModel(&fakePairer{})

	m = withState(t, m, pairing.State{Status: pairing.Connecting, Device: h})
	assert.Contains(t, m.View(), "SoleSense Pro")
	assert.NotContains(t, m.View(), "Paired")

	m = withState(t, m, pairing.State{Status: pairing.Connected, Device: h})
	assert.Contains(t, m.View(), "Connected!")
	assert.Contains(t, m.View(), "Paired")
	assert.Contains(t, m.View(), "AA:BB:CC:DD:EE:FF")
}

func TestDisconnectKey(t *testing.T) {
	f := &fakePairer{}
	m := newTestModel(f)

	_, cmd := update(t, m, runeKey("d"))
	assert.Nil(t, cmd)

	h := ble.NewNativeHandle("id", "name")
	for _, status := range []pairing.Status{pairing.Connecting, pairing.Error} {
		m = withState(t, m, pairing.State{Status: status, Device: h})
		_, cmd = update(t, m, runeKey("d"))
		assert.Nil(t, cmd, status.String())
	}

	m = withState(t, m, pairing.State{Status: pairing.Connected, Device: h})
	_, cmd = update(t, m, runeKey("d"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"disconnect"}, f.Calls())
}

func TestEscCancelsAttempt(t *testing.T) {
	m := newTestModel(&fakePairer{})
	m, _ = update(t, m, runeKey("p"))
	require.NotNil(t, m.cancel)
	m = withState(t, m, pairing.State{Status: pairing.Scanning})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, m.cancel)
}

func TestScanProgressFollowsStatus(t *testing.T) {
	m := newTestModel(&fakePairer{})

	m, cmd := update(t, m, stateMsg(pairing.State{Status: pairing.Scanning}))
	assert.True(t, m.scan.IsActive())
	assert.NotNil(t, cmd)

	m, _ = update(t, m, scanTickMsg(m.scan.started.Add(5*time.Second)))
	assert.InDelta(t, 0.5, m.scan.Percent(), 0.01)

	m, _ = update(t, m, scanTickMsg(m.scan.started.Add(time.Minute)))
	assert.InDelta(t, 1.0, m.scan.Percent(), 0.001)

	m = withState(t, m, pairing.State{Status: pairing.Connecting})
	assert.False(t, m.scan.IsActive())
}

func TestChooserSelect(t *testing.T) {
	m := withState(t, newTestModel(&fakePairer{}), pairing.State{Status: pairing.Scanning})
	reply := make(chan chooserResult, 1)
	candidates := []web.Candidate{
		{Address: "AA", Name: "SoleSense Left", RSSI: -40},
		{Address: "BB", Name: "SoleSense Right", RSSI: -70},
	}

	m, _ = update(t, m, chooserMsg{candidates: candidates, reply: reply})
	require.True(t, m.choosing)
	assert.Contains(t, m.View(), "SoleSense Left")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.choosing)
	r := <-reply
	require.NoError(t, r.err)
	assert.Equal(t, "AA", r.candidate.Address)
}

func TestChooserEscCancels(t *testing.T) {
	m := withState(t, newTestModel(&fakePairer{}), pairing.State{Status: pairing.Scanning})
	reply := make(chan chooserResult, 1)

	m, _ = update(t, m, chooserMsg{candidates: []web.Candidate{{Address: "AA"}}, reply: reply})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.choosing)
	r := <-reply
	assert.True(t, ble.IsCancellation(r.err))
}

func TestChooserClosedWhenScanEnds(t *testing.T) {
	m := withState(t, newTestModel(&fakePairer{}), pairing.State{Status: pairing.Scanning})
	reply := make(chan chooserResult, 1)

	m, _ = update(t, m, chooserMsg{candidates: []web.Candidate{{Address: "AA"}}, reply: reply})
	m = withState(t, m, pairing.State{Status: pairing.Idle})
	assert.False(t, m.choosing)
	r := <-reply
	assert.ErrorIs(t, r.err, ble.ErrUserCancelled)
}

func TestRefreshKey(t *testing.T) {
	f := &fakePairer{}
	m := newTestModel(f)
	_, cmd := update(t, m, runeKey("r"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"refresh"}, f.Calls())
}
