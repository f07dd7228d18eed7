package web

import (
	"context"
	"errors"
	"sort"

	"tinygo.org/x/bluetooth"

	"github.com/vitaminmoo/pressuremon/internal/ble"
)

// ErrNoDevices is returned by FirstChooser when the scan found nothing.
var ErrNoDevices = errors.New("no matching Bluetooth device found")

// Candidate is one peripheral offered by the chooser.
type Candidate struct {
	Address string
	Name    string
	RSSI    int16

	addr bluetooth.Address
}

// Chooser picks one candidate. Returning ble.ErrUserCancelled means the
// user dismissed the chooser.
type Chooser func(ctx context.Context, candidates []Candidate) (Candidate, error)

// FirstChooser picks the strongest candidate without asking.
func FirstChooser(_ context.Context, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoDevices
	}
	return candidates[0], nil
}

// sortCandidates orders candidates by signal strength, strongest first.
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].RSSI > c[j].RSSI })
}

// displayName returns the name shown for a candidate in a chooser.
func (c Candidate) displayName() string {
	if c.Name == "" {
		return ble.UnknownDeviceName
	}
	return c.Name
}

// Title implements list.DefaultItem for interactive choosers.
func (c Candidate) Title() string { return c.displayName() }

// Description implements list.DefaultItem for interactive choosers.
func (c Candidate) Description() string { return c.Address }

// FilterValue implements list.Item for interactive choosers.
func (c Candidate) FilterValue() string { return c.Name + " " + c.Address }
