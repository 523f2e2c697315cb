package types

import (
	"fmt"
	"strings"
	"time"
)

// EngineTimeLayout is the simulation time format the engine accepts.
const EngineTimeLayout = "2006-01-02T15:04:05.000"

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	EngineTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseEngineTime parses a configured or engine-reported simulation time.
// Years below 1000 are accepted without zero padding. Results are UTC.
func ParseEngineTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if strings.HasPrefix(s, "-") {
		return time.Time{}, fmt.Errorf("negative years are not supported: %q", s)
	}
	s = padYear(s)

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func FormatEngineTime(t time.Time) string {
	return t.UTC().Format(EngineTimeLayout)
}

func padYear(s string) string {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i >= 4 {
		return s
	}
	return strings.Repeat("0", 4-i) + s
}
