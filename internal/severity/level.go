package severity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the resolved severity of an issue. Higher values are more severe.
type Level int

const (
	// LevelNone removes the issue entirely.
	LevelNone Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelNone:
		return "IGNORE"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalJSON encodes the level as its lower-case name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(l.String()))
}

// UnmarshalJSON accepts any name ParseLevel understands.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseLevel(s)
	if !ok {
		return fmt.Errorf("unknown severity level %q", s)
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the three levels and the legacy five-level names.
// critical and high collapse to ERROR, medium to WARNING, low and info to
// INFO, and ignore to LevelNone.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "critical", "high":
		return LevelError, true
	case "warning", "warn", "medium":
		return LevelWarning, true
	case "info", "low":
		return LevelInfo, true
	case "ignore", "off", "none":
		return LevelNone, true
	default:
		return LevelNone, false
	}
}

// Max returns the most severe of levels, or LevelNone.
func Max(levels ...Level) Level {
	max := LevelNone
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}
