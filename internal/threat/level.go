package threat

// Level is a discretized threat rating.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// Thresholds is the lower bound of each level above NONE.
type Thresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the 20/40/60/80 ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 20, Medium: 40, High: 60, Critical: 80}
}

// LevelFromScore maps a score to a level. Bounds are inclusive and the ladder is
// checked top-down, so the highest satisfied threshold wins. NaN maps to NONE.
func (t Thresholds) LevelFromScore(score float64) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelNone
	}
}
