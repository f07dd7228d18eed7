// Package risk scores plantar pressure readings.
package risk

import "math"

// MaxSafePressure is the pressure in kPa above which a zone contributes risk.
const MaxSafePressure = 50.0

// Level buckets a score.
type Level string

const (
	Safe     Level = "safe"
	Moderate Level = "moderate"
	High     Level = "high"
)

// Score combines heel and forefoot pressure (kPa) into a 0-100 risk score.
// Each zone contributes its overshoot above MaxSafePressure as a percentage,
// and the heel/forefoot imbalance adds half a point per kPa.
func Score(heel, forefoot float64) int {
	heelRisk := math.Max(0, (heel-MaxSafePressure)/MaxSafePressure*100)
	forefootRisk := math.Max(0, (forefoot-MaxSafePressure)/MaxSafePressure*100)
	score := math.Round((heelRisk+forefootRisk)/2 + math.Abs(heel-forefoot)*0.5)
	return int(math.Min(100, score))
}

// LevelFor returns the level for a score.
func LevelFor(score int) Level {
	switch {
	case score < 35:
		return Safe
	case score < 60:
		return Moderate
	default:
		return High
	}
}

// Label is the display name of the level.
func (l Level) Label() string {
	switch l {
	case Safe:
		return "Safe"
	case Moderate:
		return "Moderate"
	case High:
		return "High Risk"
	default:
		return string(l)
	}
}
